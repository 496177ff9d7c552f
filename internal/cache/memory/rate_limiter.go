package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

// RateLimiter keeps one token bucket per key and window.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether key may make another request, refilling limit
// tokens per window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(max(limit, 1))), limit)
		rl.limiters[key] = l
	}
	rl.mu.Unlock()
	return l.Allow(), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
