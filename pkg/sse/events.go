package sse

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Type names one of the five wire event kinds.
type Type string

const (
	TypeContent    Type = "content"
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypeDone       Type = "done"
	TypeError      Type = "error"
)

// Event is the tagged union over the wire event kinds. Dispatch with a type
// switch on the concrete types below.
type Event interface {
	Type() Type
}

// ContentEvent carries one text delta to append to the assistant reply.
type ContentEvent struct {
	Content string `json:"content"`
}

func (ContentEvent) Type() Type { return TypeContent }

// ToolCallEvent announces a tool invocation the assistant requested.
type ToolCallEvent struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (ToolCallEvent) Type() Type { return TypeToolCall }

// ToolResultEvent reports the outcome of a prior tool call.
type ToolResultEvent struct {
	CallID  string          `json:"call_id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
}

func (ToolResultEvent) Type() Type { return TypeToolResult }

// DoneEvent terminates a successful exchange.
type DoneEvent struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

func (DoneEvent) Type() Type { return TypeDone }

// ErrorEvent terminates a failed exchange.
type ErrorEvent struct {
	Message string `json:"error"`
}

func (ErrorEvent) Type() Type { return TypeError }

// ParseEvent decodes one event body according to its declared kind.
func ParseEvent(kind string, data []byte) (Event, error) {
	if len(data) == 0 {
		return nil, errors.Errorf("sse: event %q has no data", kind)
	}
	switch Type(kind) {
	case TypeContent:
		var ev ContentEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, errors.Wrap(err, "sse: decode content payload")
		}
		return ev, nil
	case TypeToolCall:
		var ev ToolCallEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, errors.Wrap(err, "sse: decode tool_call payload")
		}
		return ev, nil
	case TypeToolResult:
		var ev ToolResultEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, errors.Wrap(err, "sse: decode tool_result payload")
		}
		return ev, nil
	case TypeDone:
		var ev DoneEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, errors.Wrap(err, "sse: decode done payload")
		}
		return ev, nil
	case TypeError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, errors.Wrap(err, "sse: decode error payload")
		}
		return ev, nil
	default:
		return nil, errors.Errorf("sse: unknown event type %q", kind)
	}
}

// Terminal reports whether ev ends its exchange.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	default:
		return false
	}
}
