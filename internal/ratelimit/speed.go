package ratelimit

import (
	"context"
	"sync"
	"time"
)

// ResetWindow is how long a ByteLimiter accumulates sent bytes before it
// starts a fresh accounting window.
const ResetWindow = time.Second

// MbpsToBytes converts a megabit-per-second figure into bytes per second.
func MbpsToBytes(mbps float64) int64 { return int64(mbps * 125000) }

// ByteLimiter caps throughput at a ceiling in bytes per second. A zero
// ceiling disables throttling. Safe for concurrent use by several
// transfers sharing one ceiling.
//
// This is a reset window, not a token bucket like rate.Limiter: the first
// chunk after each reset is never delayed and no credit carries over
// between windows.
type ByteLimiter struct {
	max   int64
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	sent    int64
	resetAt time.Time
}

// NewByteLimiter returns a limiter for bytesPerSec. Values <= 0 mean
// unlimited.
func NewByteLimiter(bytesPerSec int64) *ByteLimiter {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return &ByteLimiter{max: bytesPerSec, now: time.Now, sleep: sleepCtx}
}

// Limit reports the ceiling in bytes per second, 0 when unlimited.
func (l *ByteLimiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return l.max
}

// Throttle accounts for a chunk of n bytes and sleeps long enough to keep
// the running total at or under the ceiling. The first chunk after a reset
// is never delayed.
func (l *ByteLimiter) Throttle(ctx context.Context, n int) error {
	if l == nil || l.max == 0 || n <= 0 {
		return nil
	}
	d := l.reserve(int64(n))
	if d <= 0 {
		return nil
	}
	return l.sleep(ctx, d)
}

func (l *ByteLimiter) reserve(n int64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.resetAt.IsZero() || now.Sub(l.resetAt) >= ResetWindow {
		l.sent = 0
		l.resetAt = now
	}
	if l.sent == 0 {
		l.sent = n
		return 0
	}
	l.sent += n
	need := time.Duration(float64(l.sent) / float64(l.max) * float64(time.Second))
	return need - now.Sub(l.resetAt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
