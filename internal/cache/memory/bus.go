package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

const historyMaxLen = 1000

// SignalBus is an in-process domain.SignalBus. Channel names may be glob
// patterns as understood by path.Match. Slow subscribers drop messages.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[int]subscription
	nextID  int
	history map[string][]domain.HistoryEntry
	seq     uint64
}

type subscription struct {
	pattern string
	ch      chan []byte
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[int]subscription),
		history: make(map[string][]domain.HistoryEntry),
	}
}

// Publish delivers payload to every matching subscriber without blocking.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers for channel until ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, err
	}
	ch := make(chan []byte, 128)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Append records payload in the history of channel.
func (b *SignalBus) Append(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	entries := append(b.history[channel], domain.HistoryEntry{
		ID:      strconv.FormatUint(b.seq, 10),
		Payload: append([]byte(nil), payload...),
	})
	if len(entries) > historyMaxLen {
		entries = entries[len(entries)-historyMaxLen:]
	}
	b.history[channel] = entries
	return nil
}

// Recent returns up to count history entries of channel, newest first.
func (b *SignalBus) Recent(_ context.Context, channel string, count int) ([]domain.HistoryEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.history[channel]
	if count <= 0 || count > len(entries) {
		count = len(entries)
	}
	out := make([]domain.HistoryEntry, 0, count)
	for i := len(entries) - 1; i >= len(entries)-count; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

var (
	_ domain.SignalBus    = (*SignalBus)(nil)
	_ domain.EventHistory = (*SignalBus)(nil)
)
