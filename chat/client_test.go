package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/gptkit/apierr"
	"github.com/randalmurphal/gptkit/config"
	"github.com/randalmurphal/gptkit/conversation"
	"github.com/randalmurphal/gptkit/session"
)

const testConversationID = "6f1c2a8e-2b7d-4c55-9a3e-0d6f1b7c9e21"

func testJWT(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp":%d}`, exp.Unix())))
	return header + "." + body + ".sig"
}

// fakeBackend serves the session and conversation endpoints.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	refreshes atomic.Int32
	exchanges atomic.Int32

	mu       sync.Mutex
	requests []conversationRequest
	headers  []http.Header
	handle   func(w http.ResponseWriter, req conversationRequest, n int)
	session  func(w http.ResponseWriter, r *http.Request)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{t: t}
	b.handle = b.answer("Hi there!")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/session", func(w http.ResponseWriter, r *http.Request) {
		b.refreshes.Add(1)
		b.mu.Lock()
		custom := b.session
		b.mu.Unlock()
		if custom != nil {
			custom(w, r)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: session.SessionCookieName, Value: "rotated"})
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessToken": testJWT(time.Now().Add(time.Hour)),
			"expires":     time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	})
	mux.HandleFunc("POST /backend-api/conversation", func(w http.ResponseWriter, r *http.Request) {
		n := int(b.exchanges.Add(1))
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		var req conversationRequest
		assert.NoError(t, json.Unmarshal(data, &req))

		b.mu.Lock()
		b.requests = append(b.requests, req)
		b.headers = append(b.headers, r.Header.Clone())
		handle := b.handle
		b.mu.Unlock()

		handle(w, req, n)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) setHandler(fn func(w http.ResponseWriter, req conversationRequest, n int)) {
	b.mu.Lock()
	b.handle = fn
	b.mu.Unlock()
}

func (b *fakeBackend) request(i int) conversationRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Greater(b.t, len(b.requests), i)
	return b.requests[i]
}

func sseRecord(convID, msgID, text string) string {
	rec := map[string]any{
		"message": map[string]any{
			"id":      msgID,
			"author":  map[string]string{"role": "assistant"},
			"content": map[string]any{"content_type": "text", "parts": []string{text}},
		},
		"conversation_id": convID,
		"error":           nil,
	}
	data, _ := json.Marshal(rec)
	return "data: " + string(data) + "\n\n"
}

// answer streams text cumulatively, one rune group per record, with a
// fresh message id per exchange.
func (b *fakeBackend) answer(text string) func(http.ResponseWriter, conversationRequest, int) {
	return func(w http.ResponseWriter, req conversationRequest, n int) {
		msgID := fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, cut := range cumulativeCuts(text) {
			_, _ = io.WriteString(w, sseRecord(testConversationID, msgID, cut))
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}
}

func cumulativeCuts(text string) []string {
	words := strings.SplitAfter(text, " ")
	cuts := make([]string, 0, len(words))
	acc := ""
	for _, w := range words {
		acc += w
		cuts = append(cuts, acc)
	}
	return cuts
}

func newTestClient(t *testing.T, b *fakeBackend, opts ...Option) *Client {
	t.Helper()
	cfg := config.Default().WithBaseURL(b.srv.URL)
	cfg.ConfigsDir = ""
	client, err := New(cfg, "origin-secret", append([]Option{WithHTTPClient(b.srv.Client())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(config.Default(), "")
	assert.ErrorIs(t, err, session.ErrNoSessionSecret)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURL = "not a url"
	_, err := New(cfg, "secret")
	assert.Error(t, err)
}

func TestExchange_StreamsDeltas(t *testing.T) {
	b := newFakeBackend(t)
	client := newTestClient(t, b)

	var deltas []string
	res := client.Exchange(context.Background(), "hello", WithDelta(func(d string) {
		deltas = append(deltas, d)
	}))

	require.True(t, res.OK, "error: %v", res.Error)
	assert.Equal(t, "Hi there!", res.Answer)
	assert.Equal(t, []string{"Hi ", "there!"}, deltas)
	assert.Equal(t, testConversationID, res.ConversationID)
	assert.Equal(t, "00000000-0000-4000-8000-000000000001", res.MessageID)
	assert.Equal(t, apierr.Unknown, res.Kind)
	assert.NoError(t, res.Error)

	req := b.request(0)
	assert.Equal(t, "next", req.Action)
	assert.Empty(t, req.ConversationID, "first exchange has no backend conversation")
	assert.True(t, conversation.IsConversationID(req.ParentMessageID))
	assert.Equal(t, config.DefaultModel, req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "user", req.Messages[0].Author.Role)
	assert.Equal(t, "text", req.Messages[0].Content.ContentType)
	assert.Equal(t, []string{"hello"}, req.Messages[0].Content.Parts)

	b.mu.Lock()
	h := b.headers[0]
	b.mu.Unlock()
	assert.True(t, strings.HasPrefix(h.Get("Authorization"), "Bearer "))
	assert.Equal(t, "text/event-stream", h.Get("Accept"))

	st, ok := client.Thread(DefaultThread)
	require.True(t, ok)
	assert.Equal(t, res.MessageID, st.ParentID)
	assert.Equal(t, testConversationID, st.ConversationID)
}

func TestExchange_LinksFollowUps(t *testing.T) {
	b := newFakeBackend(t)
	client := newTestClient(t, b)

	first := client.Exchange(context.Background(), "one", WithThread("t1"))
	require.True(t, first.OK)
	second := client.Exchange(context.Background(), "two", WithThread("t1"))
	require.True(t, second.OK)

	req := b.request(1)
	assert.Equal(t, testConversationID, req.ConversationID)
	assert.Equal(t, first.MessageID, req.ParentMessageID)
	assert.Equal(t, int32(1), b.refreshes.Load(), "token reused across exchanges")
}

func TestExchange_ThreadsAreIndependent(t *testing.T) {
	b := newFakeBackend(t)
	client := newTestClient(t, b)

	require.True(t, client.Exchange(context.Background(), "a", WithThread("a")).OK)
	require.True(t, client.Exchange(context.Background(), "b", WithThread("b")).OK)

	assert.Empty(t, b.request(1).ConversationID)
	assert.NotEqual(t, b.request(0).ParentMessageID, b.request(1).ParentMessageID)
	assert.Len(t, client.Threads(), 2)
}

func TestExchange_OneMessageAtATime(t *testing.T) {
	b := newFakeBackend(t)

	var handled []apierr.Kind
	client := newTestClient(t, b, WithErrorHandler(func(kind apierr.Kind, err error) {
		handled = append(handled, kind)
	}))

	first := client.Exchange(context.Background(), "first")
	require.True(t, first.OK)
	assert.NotEmpty(t, first.Answer)

	b.setHandler(func(w http.ResponseWriter, _ conversationRequest, _ int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"detail":"Only one message at a time. Please allow any other responses to complete before sending another message, or wait one minute."}`)
	})

	second := client.Exchange(context.Background(), "second")
	assert.False(t, second.OK)
	assert.Empty(t, second.Answer)
	assert.Equal(t, apierr.ConcurrentMessageInProgress, second.Kind)
	require.Error(t, second.Error)

	var apiErr *apierr.Error
	require.ErrorAs(t, second.Error, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)

	st, ok := client.Thread(DefaultThread)
	require.True(t, ok)
	assert.Equal(t, first.MessageID, st.ParentID, "failed exchange leaves the parent pointer")
	assert.Equal(t, []apierr.Kind{apierr.ConcurrentMessageInProgress}, handled)
}

func TestExchange_JSONBody(t *testing.T) {
	b := newFakeBackend(t)
	b.setHandler(func(w http.ResponseWriter, _ conversationRequest, _ int) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		rec := strings.TrimSuffix(strings.TrimPrefix(sseRecord(testConversationID, "11111111-1111-4111-8111-111111111111", "whole answer"), "data: "), "\n\n")
		_, _ = io.WriteString(w, rec)
	})
	client := newTestClient(t, b)

	var deltas int
	res := client.Exchange(context.Background(), "q", WithDelta(func(string) { deltas++ }))
	require.True(t, res.OK)
	assert.Equal(t, "whole answer", res.Answer)
	assert.Zero(t, deltas)
}

func TestExchange_StreamErrorRecord(t *testing.T) {
	b := newFakeBackend(t)
	b.setHandler(func(w http.ResponseWriter, _ conversationRequest, _ int) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseRecord(testConversationID, "m", "partial"))
		_, _ = io.WriteString(w, `data: {"message":null,"error":"The message you submitted was too long"}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	client := newTestClient(t, b)

	res := client.Exchange(context.Background(), "q")
	assert.False(t, res.OK)
	assert.Empty(t, res.Answer, "partial text is never reported as an answer")
	assert.Equal(t, apierr.MessageTooLong, res.Kind)

	st, ok := client.Thread(DefaultThread)
	require.True(t, ok)
	assert.Empty(t, st.ConversationID)
}

func TestExchange_TrailingRecordWithoutMessage(t *testing.T) {
	b := newFakeBackend(t)
	const msgID = "22222222-2222-4222-8222-222222222222"
	b.setHandler(func(w http.ResponseWriter, _ conversationRequest, _ int) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sseRecord(testConversationID, msgID, "Hi"))
		_, _ = io.WriteString(w, sseRecord(testConversationID, msgID, "Hi there!"))
		_, _ = io.WriteString(w, `data: {"message":null,"conversation_id":"`+testConversationID+`","error":null}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	client := newTestClient(t, b)

	var deltas []string
	res := client.Exchange(context.Background(), "q", WithDelta(func(d string) {
		deltas = append(deltas, d)
	}))

	require.True(t, res.OK, "error: %v", res.Error)
	assert.Equal(t, "Hi there!", res.Answer)
	assert.Equal(t, msgID, res.MessageID)
	assert.Equal(t, []string{"Hi", " there!"}, deltas)

	st, ok := client.Thread(DefaultThread)
	require.True(t, ok)
	assert.Equal(t, msgID, st.ParentID)
}

func TestExchange_RefreshFailureSkipsBackendCall(t *testing.T) {
	b := newFakeBackend(t)
	b.mu.Lock()
	b.session = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Your session has expired"}}`)
	}
	b.mu.Unlock()
	client := newTestClient(t, b)

	res := client.Exchange(context.Background(), "q")
	assert.False(t, res.OK)
	assert.Equal(t, apierr.SessionExpired, res.Kind)
	assert.Zero(t, b.exchanges.Load())
	assert.False(t, client.Ready())
}

func TestExchange_SessionExpiredIsNotRetried(t *testing.T) {
	b := newFakeBackend(t)
	b.setHandler(func(w http.ResponseWriter, _ conversationRequest, _ int) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":{"message":"Your authentication token has expired. Please try signing in again."}}`)
	})
	client := newTestClient(t, b)

	res := client.Exchange(context.Background(), "q")
	assert.False(t, res.OK)
	assert.Equal(t, apierr.SessionExpired, res.Kind)
	assert.Equal(t, int32(1), b.exchanges.Load())
	assert.Equal(t, int32(1), b.refreshes.Load())
}

func TestExchange_ExplicitParent(t *testing.T) {
	b := newFakeBackend(t)
	client := newTestClient(t, b)
	parent := "3c2d4b9a-8f61-4e0a-b3c7-5a9d2e1f0b44"

	res := client.Exchange(context.Background(), "q", WithThread("edit"), WithParent(parent))
	require.True(t, res.OK)
	assert.Equal(t, parent, b.request(0).ParentMessageID)

	res = client.Exchange(context.Background(), "q", WithThread("edit"), WithParent("not-a-uuid"))
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Error, conversation.ErrInvalidParent)
	assert.Equal(t, int32(1), b.exchanges.Load())
}

func TestExchange_ThreadIDAdoptedAsConversation(t *testing.T) {
	b := newFakeBackend(t)
	client := newTestClient(t, b)

	res := client.Exchange(context.Background(), "q", WithThread(testConversationID))
	require.True(t, res.OK)
	assert.Equal(t, testConversationID, b.request(0).ConversationID)
}

func TestReset(t *testing.T) {
	b := newFakeBackend(t)
	client := newTestClient(t, b)

	first := client.Exchange(context.Background(), "q")
	require.True(t, first.OK)

	client.Reset(DefaultThread)
	client.Reset("unknown")

	require.True(t, client.Exchange(context.Background(), "q").OK)
	req := b.request(1)
	assert.Empty(t, req.ConversationID)
	assert.Equal(t, first.MessageID, req.ParentMessageID)
}

func TestExchange_ConcurrentThreads(t *testing.T) {
	b := newFakeBackend(t)
	client := newTestClient(t, b)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = client.Exchange(context.Background(), "q", WithThread(fmt.Sprintf("t%d", i)))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.True(t, res.OK, "thread %d: %v", i, res.Error)
	}
	assert.Equal(t, int32(1), b.refreshes.Load(), "concurrent exchanges share one refresh")
	assert.Len(t, client.Threads(), 8)
}

func TestExchange_CanceledContext(t *testing.T) {
	b := newFakeBackend(t)
	client := newTestClient(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := client.Exchange(ctx, "q")
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Error, context.Canceled)
}

func TestClose_PersistsAcrossClients(t *testing.T) {
	b := newFakeBackend(t)
	dir := t.TempDir()

	cfg := config.Default().WithBaseURL(b.srv.URL).WithName("persisted")
	cfg.ConfigsDir = dir

	client, err := New(cfg, "origin-secret", WithHTTPClient(b.srv.Client()))
	require.NoError(t, err)
	first := client.Exchange(context.Background(), "q", WithThread("kept"))
	require.True(t, first.OK)
	require.NoError(t, client.Close())

	restarted, err := New(cfg, "origin-secret", WithHTTPClient(b.srv.Client()))
	require.NoError(t, err)
	defer restarted.Close()

	assert.True(t, restarted.Ready(), "token restored from snapshot")
	st, ok := restarted.Thread("kept")
	require.True(t, ok)
	assert.Equal(t, first.MessageID, st.ParentID)

	require.True(t, restarted.Exchange(context.Background(), "again", WithThread("kept")).OK)
	assert.Equal(t, int32(1), b.refreshes.Load())
	assert.Equal(t, first.MessageID, b.request(1).ParentMessageID)
}

func TestStart_AcquiresInBackground(t *testing.T) {
	b := newFakeBackend(t)
	client := newTestClient(t, b)

	events, unsubscribe := client.Events()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, client.Start(ctx))

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, client.WaitReady(waitCtx))
	assert.True(t, client.Ready())

	var types []session.EventType
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Contains(t, types, session.EventReady)
}
