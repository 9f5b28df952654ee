package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/gptkit/apierr"
)

func TestHTTPRefresher_Refresh(t *testing.T) {
	var gotCookie, gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.UserAgent()
		if c, err := r.Cookie(SessionCookieName); err == nil {
			gotCookie = c.Value
		}
		http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "rotated-secret"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"tok-1","expires":"2026-06-01T00:00:00.000Z"}`))
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.URL+"/", srv.Client())
	cred, err := r.Refresh(context.Background(), "origin-secret")
	require.NoError(t, err)

	assert.Equal(t, "/api/auth/session", gotPath)
	assert.Equal(t, "origin-secret", gotCookie)
	assert.Contains(t, gotUA, "Mozilla")
	assert.Equal(t, "tok-1", cred.AccessToken)
	assert.Equal(t, "2026-06-01T00:00:00.000Z", cred.Expires)
	assert.Equal(t, "rotated-secret", cred.SessionSecret)
}

func TestHTTPRefresher_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		cookie   bool
		body     string
		wantKind apierr.Kind
		wantMsg  string
	}{
		{
			name:     "missing cookie",
			status:   http.StatusOK,
			body:     `{"accessToken":"tok","expires":"x"}`,
			wantKind: apierr.Unknown,
			wantMsg:  "session cookie missing",
		},
		{
			name:     "no access token",
			status:   http.StatusOK,
			cookie:   true,
			body:     `{}`,
			wantKind: apierr.Unknown,
			wantMsg:  "no access token",
		},
		{
			name:     "error in 2xx body",
			status:   http.StatusOK,
			cookie:   true,
			body:     `{"error":"Your session has expired"}`,
			wantKind: apierr.SessionExpired,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"detail":"Too many requests in 1 hour. Try again later."}`,
			wantKind: apierr.RateLimitExceeded,
		},
		{
			name:     "non-json error body",
			status:   http.StatusForbidden,
			body:     `<html>blocked</html>`,
			wantKind: apierr.Unknown,
			wantMsg:  "403 Forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.cookie {
					http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "next"})
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPRefresher(srv.URL, srv.Client()).Refresh(context.Background(), "s")
			require.Error(t, err)

			var apiErr *apierr.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, "refresh", apiErr.Op)
			if tt.wantMsg != "" {
				assert.Contains(t, apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestHTTPRefresher_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPRefresher(url, nil).Refresh(context.Background(), "s")
	require.Error(t, err)
	assert.Equal(t, apierr.Unknown, apierr.KindOf(err))
}
