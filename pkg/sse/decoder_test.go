package sse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// chunkReader hands out the stream in fixed pieces so tests can split events
// across read boundaries.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n == len(r.chunks[0]) {
		r.chunks = r.chunks[1:]
	} else {
		r.chunks[0] = r.chunks[0][n:]
	}
	return n, nil
}

func collectEvents(t *testing.T, d *Decoder) []Event {
	t.Helper()
	var out []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestDecoder_ContentThenDone(t *testing.T) {
	in := "event: content\ndata: {\"content\":\"Hi\"}\n\n" +
		"event: done\ndata: {\"tokens_in\":5,\"tokens_out\":1}\n\n"
	d := NewDecoder(strings.NewReader(in))

	events := collectEvents(t, d)
	require.Len(t, events, 2)

	content, ok := events[0].(ContentEvent)
	require.True(t, ok)
	require.Equal(t, "Hi", content.Content)

	done, ok := events[1].(DoneEvent)
	require.True(t, ok)
	require.Equal(t, 5, done.TokensIn)
	require.Equal(t, 1, done.TokensOut)

	_, err := d.Next()
	require.Equal(t, io.EOF, err)
}

func TestDecoder_EventSpansChunkBoundaries(t *testing.T) {
	full := "event: content\ndata: {\"content\":\"hello world\"}\n\n"
	r := &chunkReader{}
	for i := 0; i < len(full); i += 7 {
		end := i + 7
		if end > len(full) {
			end = len(full)
		}
		r.chunks = append(r.chunks, []byte(full[i:end]))
	}
	d := NewDecoder(r)

	events := collectEvents(t, d)
	require.Len(t, events, 1)
	require.Equal(t, ContentEvent{Content: "hello world"}, events[0])
}

func TestDecoder_ChunkMayHoldManyEvents(t *testing.T) {
	in := "event: content\ndata: {\"content\":\"a\"}\n\n" +
		"event: content\ndata: {\"content\":\"b\"}\n\n" +
		"event: done\ndata: {\"tokens_in\":1,\"tokens_out\":2}\n\n"
	d := NewDecoder(&chunkReader{chunks: [][]byte{[]byte(in)}})

	events := collectEvents(t, d)
	require.Len(t, events, 3)
	require.Equal(t, TypeContent, events[0].Type())
	require.Equal(t, TypeContent, events[1].Type())
	require.Equal(t, TypeDone, events[2].Type())
}

func TestDecoder_MalformedJSONIsSkipped(t *testing.T) {
	in := "event: content\ndata: {\"content\":\"ok\"}\n\n" +
		"event: content\ndata: {not json\n\n" +
		"event: done\ndata: {\"tokens_in\":0,\"tokens_out\":0}\n\n"
	d := NewDecoder(strings.NewReader(in))

	events := collectEvents(t, d)
	require.Len(t, events, 2)
	require.Equal(t, TypeContent, events[0].Type())
	require.Equal(t, TypeDone, events[1].Type())
}

func TestDecoder_UnknownEventTypeIsSkipped(t *testing.T) {
	in := "event: heartbeat\ndata: {}\n\n" +
		"event: content\ndata: {\"content\":\"x\"}\n\n"
	d := NewDecoder(strings.NewReader(in))

	events := collectEvents(t, d)
	require.Len(t, events, 1)
	require.Equal(t, ContentEvent{Content: "x"}, events[0])
}

func TestDecoder_RogueLinePoisonsOnlyItsBlock(t *testing.T) {
	in := "event: content\nnot a field line\ndata: {\"content\":\"bad\"}\n\n" +
		"event: content\ndata: {\"content\":\"good\"}\n\n"
	d := NewDecoder(strings.NewReader(in))

	events := collectEvents(t, d)
	require.Len(t, events, 1)
	require.Equal(t, ContentEvent{Content: "good"}, events[0])
}

func TestDecoder_TruncatedFinalEventIsDiscarded(t *testing.T) {
	in := "event: content\ndata: {\"content\":\"kept\"}\n\n" +
		"event: content\ndata: {\"content\":\"cut off\"}"
	d := NewDecoder(strings.NewReader(in))

	events := collectEvents(t, d)
	require.Len(t, events, 1)
	require.Equal(t, ContentEvent{Content: "kept"}, events[0])

	_, err := d.Next()
	require.Equal(t, io.EOF, err)
}

func TestDecoder_CRLFAndStrayBlankLines(t *testing.T) {
	in := "\r\n\r\nevent: content\r\ndata: {\"content\":\"crlf\"}\r\n\r\n\n" +
		"event: done\ndata: {\"tokens_in\":3,\"tokens_out\":4}\n\n\n"
	d := NewDecoder(strings.NewReader(in))

	events := collectEvents(t, d)
	require.Len(t, events, 2)
	require.Equal(t, ContentEvent{Content: "crlf"}, events[0])
	require.Equal(t, DoneEvent{TokensIn: 3, TokensOut: 4}, events[1])
}

func TestDecoder_MissingDataLineIsSkipped(t *testing.T) {
	in := "event: content\n\n" +
		"event: content\ndata: {\"content\":\"after\"}\n\n"
	d := NewDecoder(strings.NewReader(in))

	events := collectEvents(t, d)
	require.Len(t, events, 1)
	require.Equal(t, ContentEvent{Content: "after"}, events[0])
}

func TestParseEvent_AllKinds(t *testing.T) {
	ev, err := ParseEvent("tool_call", []byte(`{"id":"t1","name":"search","arguments":{"q":"go"}}`))
	require.NoError(t, err)
	call, ok := ev.(ToolCallEvent)
	require.True(t, ok)
	require.Equal(t, "t1", call.ID)
	require.Equal(t, "search", call.Name)
	require.JSONEq(t, `{"q":"go"}`, string(call.Arguments))

	ev, err = ParseEvent("tool_result", []byte(`{"call_id":"t1","result":{"hits":2},"success":true}`))
	require.NoError(t, err)
	res, ok := ev.(ToolResultEvent)
	require.True(t, ok)
	require.Equal(t, "t1", res.CallID)
	require.True(t, res.Success)

	ev, err = ParseEvent("error", []byte(`{"error":"model overloaded"}`))
	require.NoError(t, err)
	require.Equal(t, ErrorEvent{Message: "model overloaded"}, ev)

	_, err = ParseEvent("nope", []byte(`{}`))
	require.Error(t, err)

	_, err = ParseEvent("content", nil)
	require.Error(t, err)
}
