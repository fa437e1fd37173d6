package events

import (
	"context"
	"sync"
)

// MemoryBus is an in-process EventBus used when KurrentDB is disabled and in tests.
// Handlers run synchronously on the publishing goroutine.
type MemoryBus struct {
	mu       sync.RWMutex
	subs     []memorySub
	recorded []Event
}

type memorySub struct {
	ctx     context.Context
	pattern string
	handler Handler
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish records the event and invokes matching handlers
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	b.recorded = append(b.recorded, event)
	subs := make([]memorySub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if s.ctx.Err() != nil || !matchesPattern(event.Type, s.pattern) {
			continue
		}
		if err := s.handler(s.ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler for events matching pattern
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, memorySub{ctx: ctx, pattern: pattern, handler: handler})
	return nil
}

// Published returns the events of the given type, in publish order
func (b *MemoryBus) Published(eventType string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.recorded {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (b *MemoryBus) Close() {}

func (b *MemoryBus) Health() error { return nil }
