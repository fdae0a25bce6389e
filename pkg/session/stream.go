package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cricket/pkg/chatapi"
	"github.com/go-go-golems/cricket/pkg/conversation"
	"github.com/go-go-golems/cricket/pkg/sse"
)

// StreamOpener opens the network exchange for one send and hands back its
// event-stream body. *chatapi.Client implements it.
type StreamOpener interface {
	OpenStream(ctx context.Context, convID int64, req chatapi.SendRequest) (io.ReadCloser, error)
}

// StreamHandle tracks one streaming exchange. Cancel aborts it and is
// idempotent; Done closes once the terminal transition ran; Err reports the
// terminal failure and is valid after Done closes. A cancelled exchange
// leaves Err nil: cancellation is not an error.
type StreamHandle struct {
	conversationID int64
	cancel         context.CancelFunc
	done           chan struct{}

	mu  sync.Mutex
	err error
}

func (h *StreamHandle) ConversationID() int64 {
	if h == nil {
		return 0
	}
	return h.conversationID
}

func (h *StreamHandle) Cancel() {
	if h == nil || h.cancel == nil {
		return
	}
	h.cancel()
}

func (h *StreamHandle) Done() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.done
}

func (h *StreamHandle) Err() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *StreamHandle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// StreamClient owns the streaming side of a session: one network request
// per send, a decoder per exchange, and the cancellation registry keyed by
// conversation id. All decoded events become Store mutations; mid-stream
// failures land in the store's error slot, never in the caller's lap.
type StreamClient struct {
	opener StreamOpener
	store  *Store
	onDone func(convID int64, done sse.DoneEvent)

	mu        sync.Mutex
	exchanges map[int64]*exchange
	tempSeq   atomic.Int64
}

type exchange struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type StreamClientConfig struct {
	Opener StreamOpener
	Store  *Store
	// OnDone runs on the exchange goroutine after a done event's terminal
	// transition; the orchestrator hooks reconciliation in here. Optional.
	OnDone func(convID int64, done sse.DoneEvent)
}

func NewStreamClient(cfg StreamClientConfig) (*StreamClient, error) {
	if cfg.Opener == nil {
		return nil, errors.New("stream client: opener is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("stream client: store is nil")
	}
	return &StreamClient{
		opener:    cfg.Opener,
		store:     cfg.Store,
		onDone:    cfg.OnDone,
		exchanges: map[int64]*exchange{},
	}, nil
}

// NextTempID hands out the next client-side optimistic id. Temp ids are
// negative so they can never collide with server-assigned ones.
func (c *StreamClient) NextTempID() int64 {
	return -c.tempSeq.Add(1)
}

// SendStream opens one streaming exchange for the conversation.
//
// Any prior exchange on the same conversation is cancelled and waited out
// first. The user message and an empty assistant placeholder are appended
// optimistically with temp ids, the progress record is opened, and the
// decoded events drive store mutations until a terminal event or the end of
// the stream. Only pre-flight failures (bad input, dial, non-2xx) are
// returned; after that the returned handle is the sole surface.
//
// The exchange context derives from ctx, so tearing down the caller aborts
// the stream the same way Cancel does.
func (c *StreamClient) SendStream(ctx context.Context, convID int64, content string) (*StreamHandle, error) {
	if c == nil || c.opener == nil || c.store == nil {
		return nil, errors.New("stream client: not initialized")
	}
	if convID == 0 {
		return nil, errors.New("stream client: conversation id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("stream client: prompt is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.CancelAndWait(convID)

	now := time.Now()
	c.store.AddMessage(conversation.Message{
		ID:             c.NextTempID(),
		ConversationID: convID,
		Role:           conversation.RoleUser,
		Content:        content,
		CreatedAt:      now,
	})
	c.store.StartStreaming(convID)
	c.store.AddMessage(conversation.Message{
		ID:             c.NextTempID(),
		ConversationID: convID,
		Role:           conversation.RoleAssistant,
		CreatedAt:      now,
	})

	exCtx, cancel := context.WithCancel(ctx)
	ex := &exchange{cancel: cancel, done: make(chan struct{})}
	h := &StreamHandle{conversationID: convID, cancel: cancel, done: ex.done}
	c.mu.Lock()
	c.exchanges[convID] = ex
	c.mu.Unlock()

	req := chatapi.SendRequest{Content: content, IdempotencyKey: uuid.NewString()}
	body, err := c.opener.OpenStream(exCtx, convID, req)
	if err != nil {
		c.dropExchange(convID, ex)
		c.store.StopStreaming(convID)
		if exCtx.Err() != nil {
			// Cancelled while dialing. Not an error, the handle just
			// comes back already finished.
			cancel()
			close(ex.done)
			log.Info().Str("component", "session").Int64("conv_id", convID).Msg("stream cancelled during dial")
			return h, nil
		}
		cancel()
		c.store.SetError(err.Error())
		h.setErr(err)
		close(ex.done)
		return nil, errors.Wrap(err, "stream client: open stream")
	}
	log.Debug().Str("component", "session").Int64("conv_id", convID).
		Str("idempotency_key", req.IdempotencyKey).Msg("stream opened")

	go c.consume(exCtx, convID, ex, h, body)
	return h, nil
}

// Cancel aborts the conversation's in-flight exchange, if any. Closing the
// token twice is harmless.
func (c *StreamClient) Cancel(convID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	ex := c.exchanges[convID]
	c.mu.Unlock()
	if ex != nil {
		ex.cancel()
	}
}

// CancelAndWait additionally blocks until the exchange goroutine finished
// its terminal transition, so a follow-up send can never race the old
// stream's teardown.
func (c *StreamClient) CancelAndWait(convID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	ex := c.exchanges[convID]
	c.mu.Unlock()
	if ex == nil {
		return
	}
	ex.cancel()
	<-ex.done
}

// Close cancels every live exchange and waits them out.
func (c *StreamClient) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	open := make([]*exchange, 0, len(c.exchanges))
	for _, ex := range c.exchanges {
		open = append(open, ex)
	}
	c.mu.Unlock()
	for _, ex := range open {
		ex.cancel()
	}
	for _, ex := range open {
		<-ex.done
	}
}

// Streaming reports whether the conversation has an in-flight exchange.
func (c *StreamClient) Streaming(convID int64) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.exchanges[convID]
	return ok
}

func (c *StreamClient) dropExchange(convID int64, ex *exchange) {
	c.mu.Lock()
	if c.exchanges[convID] == ex {
		delete(c.exchanges, convID)
	}
	c.mu.Unlock()
}

// consume drains one exchange. Every path out of here runs the terminal
// transition at most once and always leaves the progress record inactive;
// painted placeholder content is never rolled back.
func (c *StreamClient) consume(ctx context.Context, convID int64, ex *exchange, h *StreamHandle, body io.ReadCloser) {
	slog := log.With().Str("component", "session").Int64("conv_id", convID).Logger()
	defer close(ex.done)
	defer c.dropExchange(convID, ex)
	defer func() { _ = body.Close() }()

	dec := sse.NewDecoder(body, sse.WithLogger(slog))
	for {
		ev, err := dec.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// Severed before a terminal event: do not lose what was
				// already painted, just close out the progress record.
				c.store.StopStreaming(convID)
				slog.Warn().Msg("stream ended without terminal event")
			case ctx.Err() != nil:
				c.store.StopStreaming(convID)
				slog.Info().Msg("stream cancelled")
			default:
				c.store.StopStreaming(convID)
				c.store.SetError(err.Error())
				h.setErr(err)
				slog.Error().Err(err).Msg("stream transport failure")
			}
			return
		}

		switch ev := ev.(type) {
		case sse.ContentEvent:
			c.store.AppendStreamContent(convID, ev.Content)
		case sse.ToolCallEvent:
			c.store.AddStreamToolCall(convID, conversation.ToolCall{
				ID:        ev.ID,
				Name:      ev.Name,
				Arguments: ev.Arguments,
			})
		case sse.ToolResultEvent:
			c.store.AddStreamToolResult(convID, conversation.ToolResult{
				CallID:  ev.CallID,
				Result:  ev.Result,
				Success: ev.Success,
				Error:   ev.Error,
			})
		case sse.DoneEvent:
			c.store.StopStreaming(convID)
			tokensIn := ev.TokensIn
			tokensOut := ev.TokensOut
			c.store.UpdateLastMessage(convID, MessagePatch{TokensIn: &tokensIn, TokensOut: &tokensOut})
			slog.Debug().Int("tokens_in", ev.TokensIn).Int("tokens_out", ev.TokensOut).Msg("stream done")
			if c.onDone != nil {
				c.onDone(convID, ev)
			}
			return
		case sse.ErrorEvent:
			c.store.StopStreaming(convID)
			c.store.SetError(ev.Message)
			h.setErr(errors.New(ev.Message))
			slog.Warn().Str("error", ev.Message).Msg("server reported stream error")
			return
		}
	}
}
