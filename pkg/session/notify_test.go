package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/cricket/pkg/conversation"
)

type capturingPublisher struct {
	mu     sync.Mutex
	topics []string
	evs    []ChangeEvent
	closed bool
}

func (p *capturingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range msgs {
		ev, err := DecodeChange(msg)
		if err != nil {
			return err
		}
		p.topics = append(p.topics, topic)
		p.evs = append(p.evs, ev)
	}
	return nil
}

func (p *capturingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func nextEvent(t *testing.T, ch <-chan *message.Message) ChangeEvent {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed early")
		ev, err := DecodeChange(msg)
		msg.Ack()
		require.NoError(t, err)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return ChangeEvent{}
	}
}

func TestNotifier_DeliversStoreChangesByTopic(t *testing.T) {
	n := NewNotifier(NotifierConfig{})
	t.Cleanup(func() { _ = n.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sessionCh, err := n.Subscribe(ctx, SessionTopic)
	require.NoError(t, err)
	convCh, err := n.Subscribe(ctx, TopicForConversation(7))
	require.NoError(t, err)

	s := NewStore(WithChangePublisher(n))
	s.SetConversations(nil, 0)
	s.SetError("backend unreachable")
	s.AddMessage(conversation.Message{ID: -1, ConversationID: 7, Role: conversation.RoleUser, Content: "hi"})
	s.StartStreaming(7)
	s.AddMessage(conversation.Message{ID: -2, ConversationID: 7, Role: conversation.RoleAssistant})
	s.AppendStreamContent(7, "hel")
	s.StopStreaming(7)

	sessionKinds := map[ChangeKind]ChangeEvent{}
	for i := 0; i < 2; i++ {
		ev := nextEvent(t, sessionCh)
		sessionKinds[ev.Kind] = ev
	}
	require.Contains(t, sessionKinds, ChangeConversations)
	require.Contains(t, sessionKinds, ChangeError)
	require.Equal(t, "backend unreachable", sessionKinds[ChangeError].Error)

	// Two message appends plus the stream lifecycle: five events total.
	convKinds := map[ChangeKind]ChangeEvent{}
	for i := 0; i < 5; i++ {
		ev := nextEvent(t, convCh)
		require.Equal(t, int64(7), ev.ConversationID)
		convKinds[ev.Kind] = ev
	}
	require.Contains(t, convKinds, ChangeMessages)
	require.Contains(t, convKinds, ChangeStreamStarted)
	require.Contains(t, convKinds, ChangeStreamDelta)
	require.Contains(t, convKinds, ChangeStreamStopped)
	require.Equal(t, "hel", convKinds[ChangeStreamDelta].Delta)
}

func TestNotifier_MirrorReceivesEveryChange(t *testing.T) {
	mirror := &capturingPublisher{}
	n := NewNotifier(NotifierConfig{Mirror: mirror})

	s := NewStore(WithChangePublisher(n))
	s.SetActiveConversation(3)
	s.AddMessage(conversation.Message{ID: 1, ConversationID: 3, Role: conversation.RoleUser, Content: "hi"})

	mirror.mu.Lock()
	require.Equal(t, []string{SessionTopic, TopicForConversation(3)}, mirror.topics)
	require.Len(t, mirror.evs, 2)
	require.Equal(t, ChangeActive, mirror.evs[0].Kind)
	require.Equal(t, ChangeMessages, mirror.evs[1].Kind)
	mirror.mu.Unlock()

	require.NoError(t, n.Close())
	mirror.mu.Lock()
	require.True(t, mirror.closed)
	mirror.mu.Unlock()
}

func TestTopicForChange_Routing(t *testing.T) {
	require.Equal(t, SessionTopic, TopicForChange(ChangeEvent{Kind: ChangeConversations, ConversationID: 5}))
	require.Equal(t, SessionTopic, TopicForChange(ChangeEvent{Kind: ChangeError}))
	require.Equal(t, "cricket:conv:5", TopicForChange(ChangeEvent{Kind: ChangeStreamDelta, ConversationID: 5}))
	require.Equal(t, SessionTopic, TopicForChange(ChangeEvent{Kind: ChangeStreamDelta}))
}

func TestDecodeChange_Rejects(t *testing.T) {
	_, err := DecodeChange(nil)
	require.Error(t, err)
	_, err = DecodeChange(message.NewMessage("x", []byte("not json")))
	require.Error(t, err)
}
