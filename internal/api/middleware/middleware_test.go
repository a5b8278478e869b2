package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/ratelimit"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/session"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/store"
)

type stubSessions map[string]string

func (s stubSessions) Validate(_ context.Context, userID, token string) (session.Result, error) {
	if s[userID] != "" && s[userID] == token {
		return session.Result{Valid: true}, nil
	}
	return session.Result{Reason: session.ReasonTokenMismatch}, nil
}

func TestRequireAuth(t *testing.T) {
	auth := NewAuthMiddleware(stubSessions{"alice": "tok"}, zerolog.Nop())

	var got Identity
	h := auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		user   string
		token  string
		status int
	}{
		{"valid", "alice", "tok", http.StatusNoContent},
		{"wrong token", "alice", "old", http.StatusUnauthorized},
		{"no session", "bob", "tok", http.StatusUnauthorized},
		{"missing headers", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
			if tc.user != "" {
				req.Header.Set(HeaderUserID, tc.user)
				req.Header.Set(HeaderSessionID, tc.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Equal(t, Identity{UserID: "alice", SessionToken: "tok"}, got)
}

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := store.NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	counter := ratelimit.NewLimiter(kv, ratelimit.WithClock(func() time.Time { return now }))
	return NewRateLimiter(kv.Client(), counter, zerolog.Nop(), cfg), mr
}

func TestRateLimiterDeniesOverLimit(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimiterConfig{})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/register", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, send().Code)
	}
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimiterWhitelistAndBlock(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimiterConfig{Whitelist: []string{"10.0.0.0/8", "bad-cidr/99"}})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/register", nil)
		req.RemoteAddr = "10.1.2.3:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rl.blocker.Block(context.Background(), "198.51.100.1", time.Hour, "test")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.1:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAutoBlockAfterViolations(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimiterConfig{AutoBlockEnabled: true})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rl.trackViolation(ctx, "192.0.2.9")
	}
	assert.True(t, rl.blocker.IsBlocked(ctx, "192.0.2.9"))

	rl.blocker.Unblock(ctx, "192.0.2.9")
	assert.False(t, rl.blocker.IsBlocked(ctx, "192.0.2.9"))
}

func TestFindLimitPrefersLongestPattern(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimiterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/rooms/abc/messages", nil)
	l := rl.findLimit(req)
	require.NotNil(t, l)
	assert.Equal(t, 30, l.Requests)

	req = httptest.NewRequest(http.MethodGet, "/rooms/abc/messages", nil)
	assert.Equal(t, 120, rl.findLimit(req).Requests)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.Nil(t, rl.findLimit(req))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/rooms/:id", normalizePath("/rooms/01HX"))
	assert.Equal(t, "/rooms/:id/messages", normalizePath("/rooms/01HX/messages"))
	assert.Equal(t, "/users/:id", normalizePath("/users/42"))
	assert.Equal(t, "/rooms", normalizePath("/rooms"))
	assert.Equal(t, "/health", normalizePath("/health"))
}

func TestSecurityMiddleware(t *testing.T) {
	h := SecurityHeaders(ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Cache-Control"))

	req := httptest.NewRequest(http.MethodGet, "/rooms/01HXAB/messages", nil)
	req.Header.Set(HeaderSessionID, "s1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	for _, target := range []string{
		"/rooms?q=<script>",
		"/rooms?q=%3Cscript%3E",
		"/rooms/a..b/messages",
		"/users/%3Cscript%3E",
		"/users/" + strings.Repeat("a", maxIDLength+1),
		"/rooms/a%20b",
	} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	for _, target := range []string{
		"/users/0190b7a2-7c3e-7d4a-9b1e-2f3a4b5c6d7e",
		"/rooms/01HXABCDEF0123456789ABCDEF/join",
		"/rooms",
	} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}
}

func TestValidateRequestContentType(t *testing.T) {
	h := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader("name=x")))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// join carries no body
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/01HX/join", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSocketUpgradeSkipsBodyChecks(t *testing.T) {
	reached := false
	h := MaxBodySize(16)(ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})))

	upgrade := func(target string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		req.ContentLength = 1024
		return req
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, upgrade("/ws?userId=u1&sessionId=s1"))
	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, rec.Code)

	reached = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, upgrade("/ws?userId=javascript:alert(1)"))
	assert.False(t, reached)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectedRequestsAreCounted(t *testing.T) {
	counter := metrics.BlockedRequests.WithLabelValues("invalid_id")
	before := testutil.ToFloat64(counter)

	h := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/a%20b", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
	assert.JSONEq(t, `{"error":"invalid id"}`, rec.Body.String())
}
