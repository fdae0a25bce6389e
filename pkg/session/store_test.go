package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/cricket/pkg/conversation"
)

type recordingPublisher struct {
	mu  sync.Mutex
	evs []ChangeEvent
}

func (p *recordingPublisher) PublishChange(ev ChangeEvent) {
	p.mu.Lock()
	p.evs = append(p.evs, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) events() []ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChangeEvent(nil), p.evs...)
}

func (p *recordingPublisher) kinds() []ChangeKind {
	out := []ChangeKind{}
	for _, ev := range p.events() {
		out = append(out, ev.Kind)
	}
	return out
}

func conv(id int64, title string, updated time.Time) conversation.Conversation {
	return conversation.Conversation{ID: id, Title: title, UpdatedAt: updated}
}

func TestStore_SetConversationsReplacesList(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(WithChangePublisher(pub))

	now := time.Now()
	s.SetConversations([]conversation.Conversation{conv(1, "a", now), conv(2, "b", now)}, 7)
	require.Len(t, s.Conversations(), 2)
	require.Equal(t, 7, s.Total())

	s.SetConversations([]conversation.Conversation{conv(3, "c", now)}, 1)
	got := s.Conversations()
	require.Len(t, got, 1)
	require.Equal(t, int64(3), got[0].ID)
	require.Equal(t, []ChangeKind{ChangeConversations, ChangeConversations}, pub.kinds())
}

func TestStore_ConversationsSortMostRecentlyUpdatedFirst(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.SetConversations([]conversation.Conversation{
		conv(1, "old", base.Add(-2*time.Hour)),
		conv(2, "new", base),
		conv(3, "mid", base.Add(-time.Hour)),
		conv(4, "tie", base),
	}, 4)

	got := s.Conversations()
	ids := []int64{got[0].ID, got[1].ID, got[2].ID, got[3].ID}
	require.Equal(t, []int64{2, 4, 3, 1}, ids)

	// Bumping UpdatedAt moves an entry to the front without rewriting
	// stored order.
	bumped := base.Add(time.Minute)
	s.UpdateConversation(1, ConversationPatch{UpdatedAt: &bumped})
	require.Equal(t, int64(1), s.Conversations()[0].ID)
}

func TestStore_UpdateConversationPatchesFields(t *testing.T) {
	s := NewStore()
	s.SetConversations([]conversation.Conversation{conv(1, "before", time.Now())}, 1)

	title := "after"
	count := 9
	s.UpdateConversation(1, ConversationPatch{Title: &title, MessageCount: &count})

	got, ok := s.Conversation(1)
	require.True(t, ok)
	require.Equal(t, "after", got.Title)
	require.Equal(t, 9, got.MessageCount)
}

func TestStore_UpdateUnknownConversationIsSkipped(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(WithChangePublisher(pub))
	title := "ghost"
	s.UpdateConversation(42, ConversationPatch{Title: &title})
	require.Empty(t, pub.kinds())
}

func TestStore_RemoveConversationClearsActive(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(WithChangePublisher(pub))
	now := time.Now()
	s.SetConversations([]conversation.Conversation{conv(1, "a", now), conv(2, "b", now)}, 2)
	s.SetActiveConversation(2)
	s.AddMessage(conversation.Message{ID: 10, ConversationID: 2, Role: conversation.RoleUser, Content: "hi"})

	s.RemoveConversation(2)

	require.Equal(t, int64(0), s.ActiveConversationID())
	require.Empty(t, s.MessagesFor(2))
	require.Equal(t, 1, s.Total())
	kinds := pub.kinds()
	require.Equal(t, ChangeConversations, kinds[len(kinds)-2])
	require.Equal(t, ChangeActive, kinds[len(kinds)-1])
}

func TestStore_RemoveOtherConversationKeepsActive(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.SetConversations([]conversation.Conversation{conv(1, "a", now), conv(2, "b", now)}, 2)
	s.SetActiveConversation(2)

	s.RemoveConversation(1)
	require.Equal(t, int64(2), s.ActiveConversationID())
}

func TestStore_MessagesKeepAppendOrder(t *testing.T) {
	s := NewStore()
	s.SetActiveConversation(5)
	for i := 0; i < 4; i++ {
		s.AddMessage(conversation.Message{
			ID:             int64(i + 1),
			ConversationID: 5,
			Role:           conversation.RoleUser,
		})
	}

	got := s.Messages()
	require.Len(t, got, 4)
	for i, msg := range got {
		require.Equal(t, int64(i+1), msg.ID)
	}
}

func TestStore_UpdateLastMessagePatchesInPlace(t *testing.T) {
	s := NewStore()
	s.AddMessage(conversation.Message{ID: 1, ConversationID: 5, Role: conversation.RoleUser, Content: "q"})
	s.AddMessage(conversation.Message{ID: 2, ConversationID: 5, Role: conversation.RoleAssistant})

	content := "answer"
	tokensOut := 12
	s.UpdateLastMessage(5, MessagePatch{Content: &content, TokensOut: &tokensOut})

	got := s.MessagesFor(5)
	require.Len(t, got, 2)
	require.Equal(t, "q", got[0].Content)
	require.Equal(t, "answer", got[1].Content)
	require.NotNil(t, got[1].TokensOut)
	require.Equal(t, 12, *got[1].TokensOut)
}

func TestStore_UpdateLastMessageOnEmptyTranscript(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(WithChangePublisher(pub))
	content := "nobody home"
	s.UpdateLastMessage(5, MessagePatch{Content: &content})
	require.Empty(t, pub.kinds())
}

func TestStore_StartStreamingTerminatesPriorExchange(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(WithChangePublisher(pub))

	s.StartStreaming(7)
	s.AppendStreamContent(7, "first ")
	s.StartStreaming(7)

	p, ok := s.Progress(7)
	require.True(t, ok)
	require.True(t, p.Active)
	require.Empty(t, p.Content)

	kinds := pub.kinds()
	require.Equal(t, []ChangeKind{
		ChangeStreamStarted,
		ChangeStreamDelta,
		ChangeStreamStopped,
		ChangeStreamStarted,
	}, kinds)
}

func TestStore_AppendStreamContentPaintsLastMessage(t *testing.T) {
	s := NewStore()
	s.AddMessage(conversation.Message{ID: -1, ConversationID: 7, Role: conversation.RoleUser, Content: "hi"})
	s.StartStreaming(7)
	s.AddMessage(conversation.Message{ID: -2, ConversationID: 7, Role: conversation.RoleAssistant})

	s.AppendStreamContent(7, "Hello")
	s.AppendStreamContent(7, ", world")

	p, ok := s.Progress(7)
	require.True(t, ok)
	require.Equal(t, "Hello, world", p.Content)

	got := s.MessagesFor(7)
	require.Equal(t, "Hello, world", got[len(got)-1].Content)
	require.Equal(t, "hi", got[0].Content)
}

func TestStore_AppendStreamContentWithoutActiveStream(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(WithChangePublisher(pub))
	s.AddMessage(conversation.Message{ID: 1, ConversationID: 7, Role: conversation.RoleAssistant, Content: "kept"})

	s.AppendStreamContent(7, "late delta")

	got := s.MessagesFor(7)
	require.Equal(t, "kept", got[0].Content)
	require.Equal(t, []ChangeKind{ChangeMessages}, pub.kinds())
}

func TestStore_ToolTrafficAccumulatesOnProgress(t *testing.T) {
	s := NewStore()
	s.StartStreaming(7)
	s.AddStreamToolCall(7, conversation.ToolCall{ID: "call-1", Name: "fetch_feed"})
	s.AddStreamToolResult(7, conversation.ToolResult{CallID: "call-1", Success: true})

	p, ok := s.Progress(7)
	require.True(t, ok)
	require.Len(t, p.ToolCalls, 1)
	require.Len(t, p.ToolResults, 1)
	require.Equal(t, "fetch_feed", p.ToolCalls[0].Name)
	require.Equal(t, "call-1", p.ToolResults[0].CallID)
}

func TestStore_StopStreamingIsIdempotent(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(WithChangePublisher(pub))
	s.AddMessage(conversation.Message{ID: -1, ConversationID: 7, Role: conversation.RoleAssistant})
	s.StartStreaming(7)
	s.AppendStreamContent(7, "partial")

	s.StopStreaming(7)
	before := len(pub.kinds())
	s.StopStreaming(7)
	require.Equal(t, before, len(pub.kinds()))

	_, ok := s.Progress(7)
	require.False(t, ok)
	got := s.MessagesFor(7)
	require.Equal(t, "partial", got[len(got)-1].Content)
}

func TestStore_ErrorSlot(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(WithChangePublisher(pub))

	s.SetError("stream failed: connection reset")
	require.Equal(t, "stream failed: connection reset", s.LastError())

	s.ClearError()
	require.Empty(t, s.LastError())

	evs := pub.events()
	require.Len(t, evs, 2)
	require.Equal(t, "stream failed: connection reset", evs[0].Error)
	require.Empty(t, evs[1].Error)
}

func TestStore_ChangeSequenceIsMonotonic(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(WithChangePublisher(pub))

	s.SetConversations(nil, 0)
	s.SetActiveConversation(1)
	s.StartStreaming(1)
	s.StopStreaming(1)
	s.SetError("x")

	evs := pub.events()
	require.Len(t, evs, 5)
	for i := 1; i < len(evs); i++ {
		require.Greater(t, evs[i].Seq, evs[i-1].Seq)
	}
}

func TestStore_ReadsReturnCopies(t *testing.T) {
	s := NewStore()
	s.SetConversations([]conversation.Conversation{conv(1, "a", time.Now())}, 1)
	s.AddMessage(conversation.Message{ID: 1, ConversationID: 1, Role: conversation.RoleUser, Content: "hi"})

	list := s.Conversations()
	list[0].Title = "mutated"
	got, ok := s.Conversation(1)
	require.True(t, ok)
	require.Equal(t, "a", got.Title)

	msgs := s.MessagesFor(1)
	msgs[0].Content = "mutated"
	require.Equal(t, "hi", s.MessagesFor(1)[0].Content)
}
