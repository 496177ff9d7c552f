package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

const (
	lockTTL       = 5 * time.Minute
	lockWait      = 2 * time.Minute
	lockRetryWait = 50 * time.Millisecond
)

// withLock runs fn while holding key. A held lock is retried for up to
// lockWait, after which ErrLockHeld is returned. A nil LockManager runs fn
// unguarded.
func withLock(ctx context.Context, locks domain.LockManager, key string, fn func() error) error {
	if locks == nil {
		return fn()
	}
	unlock, err := acquire(ctx, locks, key, lockWait)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func acquire(ctx context.Context, locks domain.LockManager, key string, wait time.Duration) (func(), error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		unlock, err := locks.Acquire(ctx, key, lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", key, ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("acquire %s: still %w after %s", key, domain.ErrLockHeld, wait)
		case <-time.After(lockRetryWait):
		}
	}
}

func lockKey(parts ...string) string {
	return strings.ToLower(strings.Join(parts, ":"))
}
