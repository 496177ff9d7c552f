package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(okHandler)

	cases := []struct {
		name   string
		path   string
		header [2]string
		want   int
	}{
		{"public path", "/api/health", [2]string{}, http.StatusOK},
		{"missing token", "/api/v1/accounts", [2]string{}, http.StatusUnauthorized},
		{"bearer", "/api/v1/accounts", [2]string{"Authorization", "Bearer secret"}, http.StatusOK},
		{"api key header", "/api/v1/accounts", [2]string{"X-API-Key", "secret"}, http.StatusOK},
		{"wrong key", "/api/v1/accounts", [2]string{"X-API-Key", "nope"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header[0] != "" {
				req.Header.Set(tc.header[0], tc.header[1])
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAuth_DisabledWithoutKey(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://app.local"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/predictions", nil)
	req.Header.Set("Origin", "http://APP.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://APP.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/predictions", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// countingLimiter counts requests per key.
type countingLimiter struct {
	counts map[string]int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[key]++
	if l.err != nil {
		return false, l.err
	}
	return l.counts[key] <= limit, nil
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(&countingLimiter{}, Limits{API: 1, Window: time.Minute})(okHandler)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/").Code)
	rec := serve(h, http.MethodGet, "/")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimit_LedgerWritesPerTarget(t *testing.T) {
	limiter := &countingLimiter{}
	h := RateLimit(limiter, Limits{API: 100, Ledger: 2, Window: time.Minute})(okHandler)
	const pred = "/api/v1/predictions/0x00000000000000000000000000000000000000AA"

	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, pred+"/votes").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, strings.ToLower(pred)+"/withdraw").Code)
	rec := serve(h, http.MethodPost, pred+"/votes")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "predictions:0x00000000000000000000000000000000000000aa")

	// Reads and other contracts draw on their own budgets.
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, pred).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/api/v1/predictions/0x00000000000000000000000000000000000000bb/votes").Code)
	assert.Equal(t, 3, limiter.counts["ratelimit:ledger:192.0.2.1:predictions:0x00000000000000000000000000000000000000aa"])
	assert.Equal(t, 1, limiter.counts["ratelimit:ledger:192.0.2.1:predictions:0x00000000000000000000000000000000000000bb"])
}

func TestLedgerTarget(t *testing.T) {
	tests := []struct {
		method, path string
		want         string
		ok           bool
	}{
		{http.MethodPost, "/api/v1/accounts", "accounts", true},
		{http.MethodPut, "/api/v1/accounts/0xAB/spenders/0xCD", "accounts:0xab", true},
		{http.MethodPost, "/api/v1/__internal__/accounts/0xAB/destroyAllTokens", "accounts:0xab", true},
		{http.MethodDelete, "/api/v1/accounts/0xAB/tokens", "accounts:0xab", true},
		{http.MethodGet, "/api/v1/predictions/0xAB", "", false},
		{http.MethodPost, "/api/health", "", false},
		{http.MethodPost, "/api/v1/", "", false},
	}
	for _, tt := range tests {
		got, ok := ledgerTarget(httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.ok, ok, "%s %s", tt.method, tt.path)
		assert.Equal(t, tt.want, got, "%s %s", tt.method, tt.path)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(&countingLimiter{err: errors.New("redis down")}, Limits{API: 1, Ledger: 1, Window: time.Minute})(okHandler)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/api/v1/accounts").Code)
	}
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "1.2.3.4", extractClientIP(req))
}

func TestRequestIDAndLogging(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})
	h := RequestID(Logging(slog.Default())(inner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}
