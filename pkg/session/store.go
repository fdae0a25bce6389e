package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cricket/pkg/conversation"
)

// StreamProgress tracks one in-flight exchange. A record exists only
// between StartStreaming and StopStreaming for its conversation; readers
// get value copies.
type StreamProgress struct {
	ConversationID int64
	Active         bool
	Content        string
	ToolCalls      []conversation.ToolCall
	ToolResults    []conversation.ToolResult
	StartedAt      time.Time
}

func (p StreamProgress) clone() StreamProgress {
	out := p
	if p.ToolCalls != nil {
		out.ToolCalls = make([]conversation.ToolCall, len(p.ToolCalls))
		copy(out.ToolCalls, p.ToolCalls)
	}
	if p.ToolResults != nil {
		out.ToolResults = make([]conversation.ToolResult, len(p.ToolResults))
		copy(out.ToolResults, p.ToolResults)
	}
	return out
}

// ConversationPatch updates individual conversation fields; nil fields are
// left untouched.
type ConversationPatch struct {
	Title        *string
	Provider     *string
	Model        *string
	MessageCount *int
	UpdatedAt    *time.Time
}

// MessagePatch updates individual fields of a transcript message in place.
type MessagePatch struct {
	Content   *string
	TokensIn  *int
	TokensOut *int
}

// Store is the single writer location for session-visible state: the
// conversation list, per-conversation transcripts, per-conversation stream
// progress, the active pointer, and the last-error slot. Every mutation is
// atomic under one lock and emits a ChangeEvent after it commits, in
// mutation order. Readers always receive copies.
//
// Stores are constructor-injected; nothing in this package keeps a global
// one, so independent sessions can coexist in a process.
type Store struct {
	mu  sync.Mutex
	seq atomic.Uint64

	publisher ChangePublisher

	conversations []conversation.Conversation
	total         int
	activeID      int64
	messages      map[int64][]conversation.Message
	progress      map[int64]*StreamProgress
	lastError     string
}

type StoreOption func(*Store)

// WithChangePublisher attaches the observer sink, usually a *Notifier.
func WithChangePublisher(p ChangePublisher) StoreOption {
	return func(s *Store) {
		s.publisher = p
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		messages: map[int64][]conversation.Message{},
		progress: map[int64]*StreamProgress{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) changeLocked(kind ChangeKind, convID int64) ChangeEvent {
	return ChangeEvent{
		Kind:           kind,
		ConversationID: convID,
		Seq:            s.seq.Add(1),
		At:             time.Now(),
	}
}

func (s *Store) publish(evs ...ChangeEvent) {
	if s.publisher == nil {
		return
	}
	for _, ev := range evs {
		s.publisher.PublishChange(ev)
	}
}

// SetConversations replaces the conversation list wholesale, as returned by
// a server list round-trip. total is the server-side total across pages.
func (s *Store) SetConversations(list []conversation.Conversation, total int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.conversations = append([]conversation.Conversation(nil), list...)
	s.total = total
	ev := s.changeLocked(ChangeConversations, 0)
	s.mu.Unlock()
	s.publish(ev)
}

// AddConversation appends a conversation the server just created.
func (s *Store) AddConversation(c conversation.Conversation) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.conversations = append(s.conversations, c)
	s.total++
	ev := s.changeLocked(ChangeConversations, c.ID)
	s.mu.Unlock()
	s.publish(ev)
}

// UpdateConversation patches one list entry in place. Unknown ids are
// skipped with a warning.
func (s *Store) UpdateConversation(id int64, patch ConversationPatch) {
	if s == nil {
		return
	}
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		log.Warn().Str("component", "session").Int64("conv_id", id).Msg("update for unknown conversation")
		return
	}
	c := &s.conversations[idx]
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Provider != nil {
		c.Provider = *patch.Provider
	}
	if patch.Model != nil {
		c.Model = *patch.Model
	}
	if patch.MessageCount != nil {
		c.MessageCount = *patch.MessageCount
	}
	if patch.UpdatedAt != nil {
		c.UpdatedAt = *patch.UpdatedAt
	}
	ev := s.changeLocked(ChangeConversations, id)
	s.mu.Unlock()
	s.publish(ev)
}

// RemoveConversation drops a conversation along with its transcript and any
// progress record. When it was the active conversation the active pointer
// is cleared as well.
func (s *Store) RemoveConversation(id int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)
	if s.total > 0 {
		s.total--
	}
	delete(s.messages, id)
	delete(s.progress, id)
	evs := []ChangeEvent{s.changeLocked(ChangeConversations, id)}
	if s.activeID == id {
		s.activeID = 0
		evs = append(evs, s.changeLocked(ChangeActive, 0))
	}
	s.mu.Unlock()
	s.publish(evs...)
}

// SetActiveConversation moves the active pointer; 0 clears it.
func (s *Store) SetActiveConversation(id int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.activeID = id
	ev := s.changeLocked(ChangeActive, id)
	s.mu.Unlock()
	s.publish(ev)
}

// SetMessages replaces one conversation's transcript wholesale. This is the
// reconciliation entry point: server-assigned messages supersede whatever
// optimistic state was painted during the exchange.
func (s *Store) SetMessages(convID int64, list []conversation.Message) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.messages[convID] = conversation.CloneMessages(list)
	ev := s.changeLocked(ChangeMessages, convID)
	s.mu.Unlock()
	s.publish(ev)
}

// AddMessage appends to its conversation's transcript, preserving strict
// append order.
func (s *Store) AddMessage(msg conversation.Message) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg.Clone())
	ev := s.changeLocked(ChangeMessages, msg.ConversationID)
	s.mu.Unlock()
	s.publish(ev)
}

// UpdateLastMessage patches the most recently appended message in place;
// ordering never changes. An empty transcript is skipped with a warning.
func (s *Store) UpdateLastMessage(convID int64, patch MessagePatch) {
	if s == nil {
		return
	}
	s.mu.Lock()
	msgs := s.messages[convID]
	if len(msgs) == 0 {
		s.mu.Unlock()
		log.Warn().Str("component", "session").Int64("conv_id", convID).Msg("update last message on empty transcript")
		return
	}
	last := &msgs[len(msgs)-1]
	if patch.Content != nil {
		last.Content = *patch.Content
	}
	if patch.TokensIn != nil {
		v := *patch.TokensIn
		last.TokensIn = &v
	}
	if patch.TokensOut != nil {
		v := *patch.TokensOut
		last.TokensOut = &v
	}
	ev := s.changeLocked(ChangeMessages, convID)
	s.mu.Unlock()
	s.publish(ev)
}

// StartStreaming opens a progress record for the conversation. A record
// already active for the same conversation is terminated first, so at most
// one exchange is ever in progress per conversation.
func (s *Store) StartStreaming(convID int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	var evs []ChangeEvent
	if prev, ok := s.progress[convID]; ok && prev.Active {
		delete(s.progress, convID)
		evs = append(evs, s.changeLocked(ChangeStreamStopped, convID))
	}
	s.progress[convID] = &StreamProgress{
		ConversationID: convID,
		Active:         true,
		StartedAt:      time.Now(),
	}
	evs = append(evs, s.changeLocked(ChangeStreamStarted, convID))
	s.mu.Unlock()
	s.publish(evs...)
}

// AppendStreamContent accumulates a text delta on the progress record and
// paints the accumulated text onto the transcript's last message under the
// same lock, so progress and placeholder can never diverge. Deltas arriving
// outside an active stream are dropped with a warning.
func (s *Store) AppendStreamContent(convID int64, delta string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	p, ok := s.progress[convID]
	if !ok || !p.Active {
		s.mu.Unlock()
		log.Warn().Str("component", "session").Int64("conv_id", convID).Msg("stream delta without active stream")
		return
	}
	p.Content += delta
	if msgs := s.messages[convID]; len(msgs) > 0 {
		msgs[len(msgs)-1].Content = p.Content
	}
	ev := s.changeLocked(ChangeStreamDelta, convID)
	ev.Delta = delta
	s.mu.Unlock()
	s.publish(ev)
}

// AddStreamToolCall records a tool invocation on the progress record. Tool
// traffic is rendered apart from message text, so the transcript is left
// alone.
func (s *Store) AddStreamToolCall(convID int64, call conversation.ToolCall) {
	if s == nil {
		return
	}
	s.mu.Lock()
	p, ok := s.progress[convID]
	if !ok || !p.Active {
		s.mu.Unlock()
		log.Warn().Str("component", "session").Int64("conv_id", convID).Msg("tool call without active stream")
		return
	}
	p.ToolCalls = append(p.ToolCalls, call)
	ev := s.changeLocked(ChangeStreamToolCall, convID)
	s.mu.Unlock()
	s.publish(ev)
}

// AddStreamToolResult records a tool outcome on the progress record.
func (s *Store) AddStreamToolResult(convID int64, res conversation.ToolResult) {
	if s == nil {
		return
	}
	s.mu.Lock()
	p, ok := s.progress[convID]
	if !ok || !p.Active {
		s.mu.Unlock()
		log.Warn().Str("component", "session").Int64("conv_id", convID).Msg("tool result without active stream")
		return
	}
	p.ToolResults = append(p.ToolResults, res)
	ev := s.changeLocked(ChangeStreamToolResult, convID)
	s.mu.Unlock()
	s.publish(ev)
}

// StopStreaming is the idempotent terminal transition: the first call drops
// the progress record, later calls are no-ops. Painted message content is
// retained.
func (s *Store) StopStreaming(convID int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if _, ok := s.progress[convID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.progress, convID)
	ev := s.changeLocked(ChangeStreamStopped, convID)
	s.mu.Unlock()
	s.publish(ev)
}

// SetError overwrites the last-error slot.
func (s *Store) SetError(msg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastError = msg
	ev := s.changeLocked(ChangeError, 0)
	ev.Error = msg
	s.mu.Unlock()
	s.publish(ev)
}

func (s *Store) ClearError() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastError = ""
	ev := s.changeLocked(ChangeError, 0)
	s.mu.Unlock()
	s.publish(ev)
}

// Conversations returns the list sorted most-recently-updated first, ties
// broken by id. The sort is applied on read; storage keeps insertion order.
func (s *Store) Conversations() []conversation.Conversation {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := append([]conversation.Conversation(nil), s.conversations...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *Store) Total() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Store) ActiveConversationID() int64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Conversation looks one list entry up by id.
func (s *Store) Conversation(id int64) (conversation.Conversation, bool) {
	if s == nil {
		return conversation.Conversation{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return conversation.Conversation{}, false
	}
	return s.conversations[idx], true
}

// Messages returns the active conversation's transcript.
func (s *Store) Messages() []conversation.Message {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return conversation.CloneMessages(s.messages[s.activeID])
}

// MessagesFor returns one conversation's transcript in append order.
func (s *Store) MessagesFor(convID int64) []conversation.Message {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return conversation.CloneMessages(s.messages[convID])
}

// Progress reports the conversation's in-flight exchange, if any.
func (s *Store) Progress(convID int64) (StreamProgress, bool) {
	if s == nil {
		return StreamProgress{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[convID]
	if !ok {
		return StreamProgress{}, false
	}
	return p.clone(), true
}

// ActiveProgress reports the active conversation's in-flight exchange.
func (s *Store) ActiveProgress() (StreamProgress, bool) {
	if s == nil {
		return StreamProgress{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[s.activeID]
	if !ok {
		return StreamProgress{}, false
	}
	return p.clone(), true
}

// Streaming reports whether any exchange is currently in progress.
func (s *Store) Streaming() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.progress {
		if p.Active {
			return true
		}
	}
	return false
}

func (s *Store) LastError() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Store) indexOfLocked(id int64) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}
