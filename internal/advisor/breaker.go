package advisor

import (
	"sync"
	"time"
)

// Breaker stops calling the advisor after consecutive failures. While open
// every call fails fast; after the cooldown one call is let through and its
// outcome decides whether the breaker closes again. A call that ends without
// an outcome hands its slot back through Release.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration

	failures  int
	openUntil time.Time
	open      bool
	trial     bool
	now       func() time.Time
}

// NewBreaker creates a circuit breaker
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may go out
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if !b.now().Before(b.openUntil) {
		// half-open: let one trial call through and re-arm for another cooldown
		b.openUntil = b.now().Add(b.cooldown)
		b.trial = true
		return true
	}
	return false
}

// Release returns an allowed call that produced no outcome. A half-open
// trial slot becomes available again at once.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open && b.trial {
		b.openUntil = b.now()
	}
	b.trial = false
}

// RecordSuccess closes the breaker
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
	b.trial = false
}

// RecordFailure counts a failure and opens the breaker at the threshold
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.trial = false
	if b.failures >= b.threshold {
		b.open = true
		b.openUntil = b.now().Add(b.cooldown)
	}
}

// IsOpen reports whether calls are currently refused
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
