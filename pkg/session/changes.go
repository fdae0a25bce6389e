package session

import (
	"fmt"
	"time"
)

// ChangeKind tags the category of store mutation a change event reports.
type ChangeKind string

const (
	ChangeConversations    ChangeKind = "conversations"
	ChangeActive           ChangeKind = "active"
	ChangeMessages         ChangeKind = "messages"
	ChangeStreamStarted    ChangeKind = "stream.started"
	ChangeStreamDelta      ChangeKind = "stream.delta"
	ChangeStreamToolCall   ChangeKind = "stream.tool_call"
	ChangeStreamToolResult ChangeKind = "stream.tool_result"
	ChangeStreamStopped    ChangeKind = "stream.stopped"
	ChangeError            ChangeKind = "error"
)

// ChangeEvent is the wire form of one committed store mutation. Seq is
// process-monotonic across all conversations; Delta carries the appended
// text for stream.delta events; Error carries the error-slot value.
type ChangeEvent struct {
	Kind           ChangeKind `json:"kind"`
	ConversationID int64      `json:"conversation_id,omitempty"`
	Seq            uint64     `json:"seq"`
	Delta          string     `json:"delta,omitempty"`
	Error          string     `json:"error,omitempty"`
	At             time.Time  `json:"at"`
}

// SessionTopic carries list-level changes: the conversation list, the
// active pointer, and the error slot.
const SessionTopic = "cricket:session"

// TopicForConversation names the topic carrying one conversation's message
// and stream changes.
func TopicForConversation(id int64) string {
	return fmt.Sprintf("cricket:conv:%d", id)
}

// TopicForChange routes an event to its topic.
func TopicForChange(ev ChangeEvent) string {
	switch ev.Kind {
	case ChangeMessages, ChangeStreamStarted, ChangeStreamDelta,
		ChangeStreamToolCall, ChangeStreamToolResult, ChangeStreamStopped:
		if ev.ConversationID != 0 {
			return TopicForConversation(ev.ConversationID)
		}
	}
	return SessionTopic
}
