package conversation

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Conversation is one chat thread as the server reports it. Provider and
// Model are overrides; empty means the global default applies.
type Conversation struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one entry in a conversation transcript. Client-side optimistic
// messages carry negative ids until reconciliation replaces them with
// server-assigned ones; TokensIn/TokensOut stay nil until the exchange that
// produced the message completed.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	TokensIn       *int       `json:"tokens_in,omitempty"`
	TokensOut      *int       `json:"tokens_out,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Temporary returns true for client-assigned optimistic ids.
func (m Message) Temporary() bool {
	return m.ID < 0
}

// ToolCall describes one tool invocation the assistant requested.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	CallID  string          `json:"call_id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
}

// Clone returns a deep copy so store readers never alias store-owned slices.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	if m.TokensIn != nil {
		v := *m.TokensIn
		out.TokensIn = &v
	}
	if m.TokensOut != nil {
		v := *m.TokensOut
		out.TokensOut = &v
	}
	return out
}

// CloneMessages deep-copies a transcript slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
