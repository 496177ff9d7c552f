package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

// Limits are request budgets per Window. API covers every request from a
// client; Ledger additionally covers requests that submit ledger
// transactions, counted per client and target contract. Zero disables a
// budget.
type Limits struct {
	API    int
	Ledger int
	Window time.Duration
}

// RateLimit returns middleware that enforces limits through the provided
// domain.RateLimiter. Limiter errors fail open.
func RateLimit(limiter domain.RateLimiter, limits Limits) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := extractClientIP(r)

			if limits.API > 0 && !allow(r, limiter, "ratelimit:api:"+clientIP, limits.API, limits.Window) {
				tooManyRequests(w, limits.Window, "rate limit exceeded")
				return
			}
			if target, ok := ledgerTarget(r); ok && limits.Ledger > 0 {
				key := "ratelimit:ledger:" + clientIP + ":" + target
				if !allow(r, limiter, key, limits.Ledger, limits.Window) {
					tooManyRequests(w, limits.Window, fmt.Sprintf("too many ledger writes to %s", target))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allow(r *http.Request, limiter domain.RateLimiter, key string, limit int, window time.Duration) bool {
	allowed, err := limiter.Allow(r.Context(), key, limit, window)
	return err != nil || allowed
}

func tooManyRequests(w http.ResponseWriter, window time.Duration, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", strconv.Itoa(max(int(window.Seconds()), 1)))
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}

// ledgerTarget names the contract a mutating /api/v1 request writes to:
// the resource, plus the lower-cased address when the path carries one.
// Reads return false.
func ledgerTarget(r *http.Request) (string, bool) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return "", false
	}
	rest, ok := strings.CutPrefix(r.URL.Path, "/api/v1/")
	if !ok {
		return "", false
	}
	rest = strings.TrimPrefix(rest, "__internal__/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if parts[0] == "" {
		return "", false
	}
	if len(parts) == 1 {
		return parts[0], true
	}
	return parts[0] + ":" + strings.ToLower(parts[1]), true
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
