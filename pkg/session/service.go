package session

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cricket/pkg/chatapi"
	"github.com/go-go-golems/cricket/pkg/conversation"
	"github.com/go-go-golems/cricket/pkg/sse"
)

// API is the slice of the chat backend the service depends on.
// *chatapi.Client satisfies it; tests substitute their own.
type API interface {
	ListConversations(ctx context.Context, page, pageSize int) (*chatapi.ConversationPage, error)
	CreateConversation(ctx context.Context, req chatapi.CreateConversationRequest) (*conversation.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*chatapi.ConversationDetail, error)
	UpdateConversation(ctx context.Context, id int64, req chatapi.UpdateConversationRequest) (*conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
	SendMessage(ctx context.Context, convID int64, req chatapi.SendRequest) (*conversation.Message, error)
	OpenStream(ctx context.Context, convID int64, req chatapi.SendRequest) (io.ReadCloser, error)
}

var _ API = (*chatapi.Client)(nil)

// Archive receives finished transcripts for local history. Failures are
// logged and swallowed, archival never blocks the session.
type Archive interface {
	SaveConversation(ctx context.Context, conv conversation.Conversation, msgs []conversation.Message) error
}

// Estimator counts prompt tokens for logging and budgeting.
type Estimator interface {
	Count(text string) (int, error)
}

const DefaultQuickChatTitle = "Quick chat"

type ServiceConfig struct {
	API   API
	Store *Store
	// BaseCtx bounds background work, reconciliation in particular, so it
	// survives the cancellation of the stream that triggered it. Defaults
	// to context.Background().
	BaseCtx context.Context
	// Archive, when set, receives every reconciled transcript.
	Archive Archive
	// Estimator, when set, is consulted for prompt-size debug logging.
	Estimator Estimator
	// QuickChatTitle names the scratch conversation behind QuickSendStream.
	QuickChatTitle string
}

// Service is the session orchestrator: conversation CRUD against the
// backend, blocking and streaming sends, and the post-stream reconciliation
// that swaps optimistic state for server truth. All session-visible state
// lives in the injected Store; the service itself only tracks the quick-chat
// slot.
type Service struct {
	api        API
	store      *Store
	streams    *StreamClient
	archive    Archive
	estimator  Estimator
	baseCtx    context.Context
	quickTitle string

	mu          sync.Mutex
	quickChatID int64
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.API == nil {
		return nil, errors.New("session service: api client is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("session service: store is nil")
	}
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	quickTitle := cfg.QuickChatTitle
	if quickTitle == "" {
		quickTitle = DefaultQuickChatTitle
	}
	s := &Service{
		api:        cfg.API,
		store:      cfg.Store,
		archive:    cfg.Archive,
		estimator:  cfg.Estimator,
		baseCtx:    baseCtx,
		quickTitle: quickTitle,
	}
	streams, err := NewStreamClient(StreamClientConfig{
		Opener: cfg.API,
		Store:  cfg.Store,
		OnDone: s.reconcile,
	})
	if err != nil {
		return nil, err
	}
	s.streams = streams
	return s, nil
}

// Store exposes the session state for readers and subscribers.
func (s *Service) Store() *Store {
	if s == nil {
		return nil
	}
	return s.store
}

// LoadConversations fetches one listing page into the store.
func (s *Service) LoadConversations(ctx context.Context, page, pageSize int) error {
	if s == nil || s.api == nil {
		return errors.New("session service is not initialized")
	}
	res, err := s.api.ListConversations(ctx, page, pageSize)
	if err != nil {
		s.store.SetError(err.Error())
		return errors.Wrap(err, "load conversations")
	}
	s.store.SetConversations(res.Conversations, res.Total)
	return nil
}

// CreateConversation creates a conversation server-side, adds it to the
// store, and makes it the active one.
func (s *Service) CreateConversation(ctx context.Context, title string) (*conversation.Conversation, error) {
	if s == nil || s.api == nil {
		return nil, errors.New("session service is not initialized")
	}
	conv, err := s.api.CreateConversation(ctx, chatapi.CreateConversationRequest{Title: title})
	if err != nil {
		s.store.SetError(err.Error())
		return nil, errors.Wrap(err, "create conversation")
	}
	s.store.AddConversation(*conv)
	s.store.SetActiveConversation(conv.ID)
	log.Debug().Str("component", "session").Int64("conv_id", conv.ID).Msg("conversation created")
	return conv, nil
}

// LoadConversation opens a conversation: fetch the detail, install the
// canonical transcript, and move the active pointer.
func (s *Service) LoadConversation(ctx context.Context, id int64) error {
	if s == nil || s.api == nil {
		return errors.New("session service is not initialized")
	}
	detail, err := s.api.GetConversation(ctx, id)
	if err != nil {
		s.store.SetError(err.Error())
		return errors.Wrapf(err, "load conversation %d", id)
	}
	s.store.SetMessages(id, detail.Messages)
	s.store.UpdateConversation(id, patchFrom(detail.Conversation))
	s.store.SetActiveConversation(id)
	return nil
}

// UpdateConversation patches conversation fields server-side and mirrors the
// result into the store.
func (s *Service) UpdateConversation(ctx context.Context, id int64, req chatapi.UpdateConversationRequest) (*conversation.Conversation, error) {
	if s == nil || s.api == nil {
		return nil, errors.New("session service is not initialized")
	}
	conv, err := s.api.UpdateConversation(ctx, id, req)
	if err != nil {
		s.store.SetError(err.Error())
		return nil, errors.Wrapf(err, "update conversation %d", id)
	}
	s.store.UpdateConversation(id, patchFrom(*conv))
	return conv, nil
}

// DeleteConversation cancels any in-flight exchange on the conversation,
// deletes it server-side, and drops it from the store.
func (s *Service) DeleteConversation(ctx context.Context, id int64) error {
	if s == nil || s.api == nil {
		return errors.New("session service is not initialized")
	}
	s.streams.CancelAndWait(id)
	if err := s.api.DeleteConversation(ctx, id); err != nil {
		s.store.SetError(err.Error())
		return errors.Wrapf(err, "delete conversation %d", id)
	}
	s.store.RemoveConversation(id)
	s.mu.Lock()
	if s.quickChatID == id {
		s.quickChatID = 0
	}
	s.mu.Unlock()
	return nil
}

// Send is the blocking send: optimistic echo, one round-trip for the
// completed assistant message, then reconciliation for canonical ids.
func (s *Service) Send(ctx context.Context, convID int64, content string) (*conversation.Message, error) {
	if s == nil || s.api == nil {
		return nil, errors.New("session service is not initialized")
	}
	if convID == 0 {
		return nil, errors.New("session service: conversation id is required")
	}
	s.logPromptSize(convID, content)
	s.streams.CancelAndWait(convID)
	s.store.AddMessage(conversation.Message{
		ID:             s.streams.NextTempID(),
		ConversationID: convID,
		Role:           conversation.RoleUser,
		Content:        content,
	})
	msg, err := s.api.SendMessage(ctx, convID, chatapi.SendRequest{Content: content, IdempotencyKey: uuid.NewString()})
	if err != nil {
		s.store.SetError(err.Error())
		return nil, errors.Wrapf(err, "send message to conversation %d", convID)
	}
	s.store.AddMessage(*msg)
	s.reconcile(convID, sse.DoneEvent{})
	return msg, nil
}

// SendStream starts a streaming send on the conversation. The returned
// handle is the only way to cancel or await this exchange.
func (s *Service) SendStream(ctx context.Context, convID int64, content string) (*StreamHandle, error) {
	if s == nil || s.streams == nil {
		return nil, errors.New("session service is not initialized")
	}
	s.logPromptSize(convID, content)
	return s.streams.SendStream(ctx, convID, content)
}

// CancelStream aborts the conversation's in-flight exchange, if any.
func (s *Service) CancelStream(convID int64) {
	if s == nil || s.streams == nil {
		return
	}
	s.streams.Cancel(convID)
}

// Streaming reports whether the conversation has an in-flight exchange.
func (s *Service) Streaming(convID int64) bool {
	if s == nil || s.streams == nil {
		return false
	}
	return s.streams.Streaming(convID)
}

// EnsureQuickChat returns the scratch conversation's id, creating it on
// first use. The quick-chat slot is keyed by its own conversation id, so it
// and the main view can stream at the same time without cancelling each
// other.
func (s *Service) EnsureQuickChat(ctx context.Context) (int64, error) {
	if s == nil || s.api == nil {
		return 0, errors.New("session service is not initialized")
	}
	s.mu.Lock()
	id := s.quickChatID
	s.mu.Unlock()
	if id != 0 {
		return id, nil
	}
	conv, err := s.api.CreateConversation(ctx, chatapi.CreateConversationRequest{Title: s.quickTitle})
	if err != nil {
		s.store.SetError(err.Error())
		return 0, errors.Wrap(err, "create quick chat")
	}
	s.store.AddConversation(*conv)
	s.mu.Lock()
	// Lost the creation race: keep the winner, the extra conversation is
	// still a normal one in the list.
	if s.quickChatID == 0 {
		s.quickChatID = conv.ID
	}
	id = s.quickChatID
	s.mu.Unlock()
	log.Debug().Str("component", "session").Int64("conv_id", id).Msg("quick chat ready")
	return id, nil
}

// QuickSendStream streams a prompt on the quick-chat slot.
func (s *Service) QuickSendStream(ctx context.Context, content string) (*StreamHandle, error) {
	id, err := s.EnsureQuickChat(ctx)
	if err != nil {
		return nil, err
	}
	return s.SendStream(ctx, id, content)
}

// QuickChatID returns the scratch conversation's id, 0 before first use.
func (s *Service) QuickChatID() int64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quickChatID
}

// Close cancels all in-flight exchanges and waits them out.
func (s *Service) Close() {
	if s == nil || s.streams == nil {
		return
	}
	s.streams.Close()
}

// reconcile replaces a conversation's optimistic transcript with server
// truth after a completed exchange. On failure the optimistic state stays
// visible, the error slot is set, and nothing retries; the next send or
// reload converges naturally.
func (s *Service) reconcile(convID int64, done sse.DoneEvent) {
	slog := log.With().Str("component", "session").Int64("conv_id", convID).Logger()
	detail, err := s.api.GetConversation(s.baseCtx, convID)
	if err != nil {
		s.store.SetError(err.Error())
		slog.Warn().Err(err).Msg("reconciliation failed, keeping optimistic transcript")
		return
	}
	s.store.SetMessages(convID, detail.Messages)
	s.store.UpdateConversation(convID, patchFrom(detail.Conversation))
	slog.Debug().Int("messages", len(detail.Messages)).
		Int("tokens_in", done.TokensIn).Int("tokens_out", done.TokensOut).
		Msg("transcript reconciled")

	if s.archive != nil {
		if err := s.archive.SaveConversation(s.baseCtx, detail.Conversation, detail.Messages); err != nil {
			slog.Warn().Err(err).Msg("failed to archive transcript")
		}
	}
}

func (s *Service) logPromptSize(convID int64, content string) {
	if s.estimator == nil {
		return
	}
	n, err := s.estimator.Count(content)
	if err != nil {
		log.Debug().Err(err).Str("component", "session").Int64("conv_id", convID).Msg("prompt size estimate failed")
		return
	}
	log.Debug().Str("component", "session").Int64("conv_id", convID).
		Int("prompt_tokens_est", n).Msg("prompt sized")
}

func patchFrom(c conversation.Conversation) ConversationPatch {
	title := c.Title
	provider := c.Provider
	model := c.Model
	count := c.MessageCount
	updated := c.UpdatedAt
	return ConversationPatch{
		Title:        &title,
		Provider:     &provider,
		Model:        &model,
		MessageCount: &count,
		UpdatedAt:    &updated,
	}
}
