// Package ratelimit provides the two throttling primitives used by the
// download pipeline: a per-key minimum-interval limiter for outgoing status
// updates and a byte-rate limiter for transfer throughput.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultUpdateInterval is the minimum spacing between two status updates
// for the same key.
const DefaultUpdateInterval = 2 * time.Second

// UpdateLimiter admits at most one action per key per interval. Keys are
// independent: waiting on one key never delays another.
type UpdateLimiter[K comparable] struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[K]time.Time
}

// NewUpdateLimiter returns a limiter with the given minimum interval. A
// non-positive interval uses DefaultUpdateInterval.
func NewUpdateLimiter[K comparable](interval time.Duration) *UpdateLimiter[K] {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	return &UpdateLimiter[K]{interval: interval, now: time.Now, last: make(map[K]time.Time)}
}

// Interval reports the configured minimum interval.
func (l *UpdateLimiter[K]) Interval() time.Duration { return l.interval }

// TryProceed records and permits the action when at least one interval has
// passed since the last permitted action for key. It never blocks.
func (l *UpdateLimiter[K]) TryProceed(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if last, ok := l.last[key]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.last[key] = now
	return true
}

// Wait blocks until an action for key is permitted and records it. The slot
// is reserved before sleeping, so concurrent waiters on one key are spaced
// by the interval rather than released together.
func (l *UpdateLimiter[K]) Wait(ctx context.Context, key K) error {
	l.mu.Lock()
	now := l.now()
	next := now
	if last, ok := l.last[key]; ok {
		if earliest := last.Add(l.interval); earliest.After(now) {
			next = earliest
		}
	}
	l.last[key] = next
	l.mu.Unlock()

	d := next.Sub(now)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Forget drops the recorded state for key, e.g. once a task is terminal.
func (l *UpdateLimiter[K]) Forget(key K) {
	l.mu.Lock()
	delete(l.last, key)
	l.mu.Unlock()
}
