package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for lifecycle notifications.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// HistoryEntry is one recorded signal.
type HistoryEntry struct {
	ID      string
	Payload []byte
}

// EventHistory keeps a bounded, ordered record of signals per channel.
type EventHistory interface {
	Append(ctx context.Context, channel string, payload []byte) error
	Recent(ctx context.Context, channel string, count int) ([]HistoryEntry, error)
}
