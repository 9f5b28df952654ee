package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/randalmurphal/gptkit/apierr"
	"github.com/randalmurphal/gptkit/session"
)

// conversationPath is the backend's exchange endpoint.
const conversationPath = "/backend-api/conversation"

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 * 1024

// Result is the outcome of one exchange.
type Result struct {
	// OK is true when the backend produced a complete answer.
	OK bool

	// Answer is the final answer text. Empty unless OK.
	Answer string

	// ConversationID is the backend conversation the answer belongs to.
	ConversationID string

	// MessageID is the id of the produced message, the parent of the
	// thread's next prompt.
	MessageID string

	// Kind classifies the failure. Unknown when OK.
	Kind apierr.Kind

	// Error is the failure, nil when OK.
	Error error
}

type conversationRequest struct {
	Action          string           `json:"action"`
	Messages        []requestMessage `json:"messages"`
	ConversationID  string           `json:"conversation_id,omitempty"`
	ParentMessageID string           `json:"parent_message_id"`
	Model           string           `json:"model"`
}

type requestMessage struct {
	ID      string         `json:"id"`
	Author  requestAuthor  `json:"author"`
	Role    string         `json:"role"`
	Content requestContent `json:"content"`
}

type requestAuthor struct {
	Role string `json:"role"`
}

type requestContent struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// Exchange sends prompt on a thread and returns the answer. Failures are
// reported in the Result, never returned as a panic or separate error.
// Thread state only changes on success.
func (c *Client) Exchange(ctx context.Context, prompt string, opts ...ExchangeOption) Result {
	o := exchangeOptions{thread: DefaultThread}
	for _, opt := range opts {
		opt(&o)
	}

	token, err := c.session.EnsureCredential(ctx)
	if err != nil {
		return c.fail(o.thread, err)
	}

	st, err := c.table.Resolve(o.thread, o.parent)
	if err != nil {
		return c.fail(o.thread, err)
	}
	parent := st.ParentID
	if o.parent != "" {
		parent = o.parent
	}

	body, err := json.Marshal(conversationRequest{
		Action: "next",
		Messages: []requestMessage{{
			ID:      c.newID(),
			Author:  requestAuthor{Role: "user"},
			Role:    "user",
			Content: requestContent{ContentType: "text", Parts: []string{prompt}},
		}},
		ConversationID:  st.ConversationID,
		ParentMessageID: parent,
		Model:           c.cfg.Model,
	})
	if err != nil {
		return c.fail(o.thread, fmt.Errorf("marshal request: %w", err))
	}

	c.logger.Debug("exchange started",
		slog.String("thread", o.thread),
		slog.String("conversation_id", st.ConversationID),
		slog.String("parent_id", parent),
		slog.Int("prompt_len", len(prompt)))

	resp, err := c.post(ctx, token, body)
	if err != nil {
		return c.fail(o.thread, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.fail(o.thread, apierr.New("exchange", apierr.Normalize(data, resp.Status), resp.StatusCode))
	}

	rec, err := c.decoder.Decode(ctx, resp.Body, resp.Header.Get("Content-Type"), o.onDelta)
	if err != nil {
		return c.fail(o.thread, err)
	}

	convID := rec.ConversationID
	if convID == "" {
		convID = st.ConversationID
	}
	next := c.table.Advance(o.thread, convID, rec.MessageID())

	c.logger.Debug("exchange completed",
		slog.String("thread", o.thread),
		slog.String("conversation_id", next.ConversationID),
		slog.String("message_id", rec.MessageID()))

	return Result{
		OK:             true,
		Answer:         rec.Text(),
		ConversationID: next.ConversationID,
		MessageID:      rec.MessageID(),
	}
}

func (c *Client) post(ctx context.Context, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+conversationPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create exchange request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", session.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post conversation: %w", err)
	}
	return resp, nil
}

// fail builds a failed Result, logs it and notifies the error handler.
func (c *Client) fail(thread string, err error) Result {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		err = apierr.Wrap("exchange", err)
	}
	kind := apierr.KindOf(err)

	c.logger.Warn("exchange failed",
		slog.String("thread", thread),
		slog.String("kind", kind.String()),
		slog.Any("error", err))

	if c.onError != nil {
		c.onError(kind, err)
	}
	return Result{Kind: kind, Error: err}
}
