package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/randalmurphal/gptkit/apierr"
)

// SessionCookieName is the cookie carrying the session secret.
const SessionCookieName = "__Secure-next-auth.session-token"

// sessionPath is the backend's session endpoint.
const sessionPath = "/api/auth/session"

// UserAgent is sent on refresh calls; the session endpoint rejects
// requests without a browser user agent.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/109.0"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 * 1024

// Credential is the result of a successful refresh.
type Credential struct {
	// AccessToken authorizes exchange calls.
	AccessToken string

	// Expires is the expiry reported by the endpoint, kept verbatim.
	Expires string

	// SessionSecret is the rotated secret. Empty means unchanged.
	SessionSecret string
}

// Refresher trades a session secret for a fresh credential.
type Refresher interface {
	Refresh(ctx context.Context, secret string) (*Credential, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, secret string) (*Credential, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, secret string) (*Credential, error) {
	return f(ctx, secret)
}

// HTTPRefresher calls the backend session endpoint.
type HTTPRefresher struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewHTTPRefresher creates a refresher for baseURL. A nil client uses one
// with a 30 second timeout.
func NewHTTPRefresher(baseURL string, client *http.Client) *HTTPRefresher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRefresher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		userAgent:  UserAgent,
	}
}

type sessionResponse struct {
	AccessToken string `json:"accessToken"`
	Expires     string `json:"expires"`
}

// Refresh implements Refresher.
func (r *HTTPRefresher) Refresh(ctx context.Context, secret string) (*Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+sessionPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: secret})

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, apierr.Wrap("refresh", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, apierr.Wrap("refresh", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierr.New("refresh", apierr.Normalize(body, resp.Status), resp.StatusCode)
	}

	// A 2xx body may still carry an error message.
	if msg := apierr.Normalize(body, ""); msg != "" && strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		return nil, apierr.New("refresh", msg, resp.StatusCode)
	}

	var parsed sessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apierr.Wrap("refresh", fmt.Errorf("decode session response: %w", err))
	}
	if parsed.AccessToken == "" {
		return nil, apierr.New("refresh", "session response has no access token", resp.StatusCode)
	}

	var rotated string
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookieName {
			rotated = c.Value
			break
		}
	}
	if rotated == "" {
		return nil, apierr.New("refresh", "session cookie missing from response", resp.StatusCode)
	}

	return &Credential{
		AccessToken:   parsed.AccessToken,
		Expires:       parsed.Expires,
		SessionSecret: rotated,
	}, nil
}
