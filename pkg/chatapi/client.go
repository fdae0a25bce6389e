// Package chatapi is the REST and event-stream client for the dashboard's
// chat backend. It owns URL construction, auth and idempotency headers, and
// status handling; decoding the stream body belongs to pkg/sse.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/cricket/pkg/conversation"
)

const DefaultTimeout = 30 * time.Second

// SendRequest posts one user message. The idempotency key travels as a
// header, not in the body, so retried sends dedupe server-side.
type SendRequest struct {
	Content        string `json:"content"`
	IdempotencyKey string `json:"-"`
}

type CreateConversationRequest struct {
	Title    string `json:"title,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// UpdateConversationRequest patches conversation fields; nil fields are left
// untouched server-side.
type UpdateConversationRequest struct {
	Title    *string `json:"title,omitempty"`
	Provider *string `json:"provider,omitempty"`
	Model    *string `json:"model,omitempty"`
}

// ConversationPage is one page of the conversation listing. Total counts all
// conversations across pages.
type ConversationPage struct {
	Conversations []conversation.Conversation `json:"conversations"`
	Total         int                         `json:"total"`
	Page          int                         `json:"page"`
	PageSize      int                         `json:"page_size"`
}

// ConversationDetail is the full server-side view of one conversation,
// transcript included. Message order is the server's canonical order.
type ConversationDetail struct {
	Conversation conversation.Conversation `json:"conversation"`
	Messages     []conversation.Message    `json:"messages"`
}

type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// Timeout bounds the plain REST calls. Streaming requests ignore it and
	// are controlled through their context instead.
	Timeout time.Duration
	// HTTPClient overrides the REST transport, mostly for tests.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	token   string
	rest    *http.Client
	stream  *http.Client
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("chat api: base URL is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrap(err, "chat api: invalid base URL")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rest := cfg.HTTPClient
	if rest == nil {
		rest = &http.Client{Timeout: timeout}
	}
	var stream *http.Client
	if cfg.HTTPClient != nil {
		stream = cfg.HTTPClient
	} else {
		// No timeout here, a streaming exchange lives as long as its
		// context does.
		stream = &http.Client{}
	}
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		rest:    rest,
		stream:  stream,
	}, nil
}

// ListConversations fetches one page of the conversation listing. page is
// 1-based; non-positive arguments fall back to server defaults.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) (*ConversationPage, error) {
	u := c.endpoint("api", "conversations")
	q := url.Values{}
	if page > 0 {
		q.Set("page", fmt.Sprintf("%d", page))
	}
	if pageSize > 0 {
		q.Set("page_size", fmt.Sprintf("%d", pageSize))
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	out := &ConversationPage{}
	if err := c.doJSON(ctx, http.MethodGet, u, nil, "", out); err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*conversation.Conversation, error) {
	out := &conversation.Conversation{}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("api", "conversations"), req, "", out); err != nil {
		return nil, errors.Wrap(err, "create conversation")
	}
	return out, nil
}

// GetConversation fetches the conversation detail, transcript included.
func (c *Client) GetConversation(ctx context.Context, id int64) (*ConversationDetail, error) {
	out := &ConversationDetail{}
	u := c.endpoint("api", "conversations", fmt.Sprintf("%d", id))
	if err := c.doJSON(ctx, http.MethodGet, u, nil, "", out); err != nil {
		return nil, errors.Wrapf(err, "get conversation %d", id)
	}
	return out, nil
}

func (c *Client) UpdateConversation(ctx context.Context, id int64, req UpdateConversationRequest) (*conversation.Conversation, error) {
	out := &conversation.Conversation{}
	u := c.endpoint("api", "conversations", fmt.Sprintf("%d", id))
	if err := c.doJSON(ctx, http.MethodPatch, u, req, "", out); err != nil {
		return nil, errors.Wrapf(err, "update conversation %d", id)
	}
	return out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	u := c.endpoint("api", "conversations", fmt.Sprintf("%d", id))
	if err := c.doJSON(ctx, http.MethodDelete, u, nil, "", nil); err != nil {
		return errors.Wrapf(err, "delete conversation %d", id)
	}
	return nil
}

// SendMessage posts a user message and blocks until the server responds with
// the completed assistant message.
func (c *Client) SendMessage(ctx context.Context, convID int64, req SendRequest) (*conversation.Message, error) {
	out := &conversation.Message{}
	u := c.endpoint("api", "conversations", fmt.Sprintf("%d", convID), "messages")
	if err := c.doJSON(ctx, http.MethodPost, u, req, req.IdempotencyKey, out); err != nil {
		return nil, errors.Wrapf(err, "send message to conversation %d", convID)
	}
	return out, nil
}

// OpenStream posts a user message on the streaming endpoint and hands back
// the raw event-stream body. The caller owns the body and must close it;
// cancelling ctx severs the stream at whatever stage it is in.
func (c *Client) OpenStream(ctx context.Context, convID int64, req SendRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode stream request")
	}
	u := c.endpoint("api", "conversations", fmt.Sprintf("%d", convID), "messages", "stream")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build stream request")
	}
	c.setHeaders(httpReq, req.IdempotencyKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "open stream for conversation %d", convID)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, errors.Errorf("chat api HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + "/" + strings.Join(parts, "/")
}

func (c *Client) setHeaders(req *http.Request, idempotencyKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
}

// doJSON runs one REST exchange: marshal in, check the status range, decode
// into out. A nil out discards the response body.
func (c *Client) doJSON(ctx context.Context, method, u string, in any, idempotencyKey string, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	c.setHeaders(req, idempotencyKey)

	resp, err := c.rest.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return errors.Errorf("chat api HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
