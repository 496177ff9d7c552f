package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

// historyMaxLen caps each lifecycle stream, trimmed approximately by XADD.
const historyMaxLen int64 = 1000

// SignalBus fans lifecycle events out over Pub/Sub and keeps a bounded
// history of them in one Redis stream per channel.
type SignalBus struct {
	client *Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{client: c}
}

// Publish sends payload to channel subscribers.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.client.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, which may be a glob pattern. The returned
// channel is closed when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.client.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.client.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Append records payload in the history of channel.
func (sb *SignalBus) Append(ctx context.Context, channel string, payload []byte) error {
	err := sb.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.client.key("history", channel),
		MaxLen: historyMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: append history %s: %w", channel, err)
	}
	return nil
}

// Recent returns up to count history entries of channel, newest first.
func (sb *SignalBus) Recent(ctx context.Context, channel string, count int) ([]domain.HistoryEntry, error) {
	msgs, err := sb.client.rdb.XRevRangeN(ctx, sb.client.key("history", channel), "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history %s: %w", channel, err)
	}
	entries := make([]domain.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["payload"].(string)
		if !ok {
			continue
		}
		entries = append(entries, domain.HistoryEntry{ID: m.ID, Payload: []byte(raw)})
	}
	return entries, nil
}

var (
	_ domain.SignalBus    = (*SignalBus)(nil)
	_ domain.EventHistory = (*SignalBus)(nil)
)
