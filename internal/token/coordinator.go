// Package token serializes access to the shared notification channel.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinoosan/mediamgr/internal/metrics"
)

var (
	// ErrTimeout is returned by WithToken when the token could not be
	// acquired in time.
	ErrTimeout = errors.New("token acquire timed out")
	// ErrStopped is returned once the coordinator has been stopped.
	ErrStopped = errors.New("token coordinator stopped")
)

// Policy decides what happens to a token whose holder never releases it.
type Policy string

const (
	// FailClosed never reclaims: waiters time out until the holder releases
	// or the coordinator is stopped.
	FailClosed Policy = "fail-closed"
	// FailOpen lets a waiter reclaim a token held longer than the hold limit.
	FailOpen Policy = "fail-open"
)

// ParsePolicy converts s to a Policy, defaulting to FailClosed.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", FailClosed:
		return FailClosed, nil
	case FailOpen:
		return FailOpen, nil
	default:
		return "", fmt.Errorf("unknown token policy %q", s)
	}
}

// Coordinator grants a single exclusive token. It is not reentrant and
// makes no fairness guarantee among waiters.
type Coordinator struct {
	policy    Policy
	holdLimit time.Duration
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	holder   string
	since    time.Time
	gen      uint64
	released chan struct{}
	stopped  bool
}

// Options configures a Coordinator.
type Options struct {
	Policy Policy
	// HoldLimit is how long a holder may keep the token before FailOpen
	// allows a waiter to reclaim it. Ignored by FailClosed except for logging.
	HoldLimit time.Duration
}

// New returns a coordinator. A nil logger uses slog.Default().
func New(log *slog.Logger, opts Options) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if opts.Policy == "" {
		opts.Policy = FailClosed
	}
	if opts.HoldLimit <= 0 {
		opts.HoldLimit = 2 * time.Minute
	}
	return &Coordinator{
		policy:    opts.Policy,
		holdLimit: opts.HoldLimit,
		log:       log.With("component", "token"),
		now:       time.Now,
		released:  make(chan struct{}),
	}
}

// Lease identifies one grant of the token. Many goroutines may share an
// owner name; a Lease releases only its own grant.
type Lease struct {
	c     *Coordinator
	owner string
	gen   uint64
}

// Owner is the name the lease was granted to.
func (l *Lease) Owner() string { return l.owner }

// Release frees the token if this lease is still the current grant. After a
// reclaim or Stop it is a no-op.
func (l *Lease) Release() {
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holder == "" || c.gen != l.gen {
		return
	}
	c.releaseLocked()
}

// Acquire waits up to timeout for the token and reports whether owner now
// holds it. It returns false when ctx ends or the coordinator stops.
func (c *Coordinator) Acquire(ctx context.Context, owner string, timeout time.Duration) bool {
	_, ok := c.AcquireLease(ctx, owner, timeout)
	return ok
}

// AcquireLease is Acquire returning the grant, for callers that must not
// release a token someone else has since reclaimed.
func (c *Coordinator) AcquireLease(ctx context.Context, owner string, timeout time.Duration) (*Lease, bool) {
	start := c.now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer func() {
		metrics.TokenWait.WithLabelValues(owner).Observe(c.now().Sub(start).Seconds())
	}()

	warned := false
	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return nil, false
		}
		if c.holder == "" {
			l := c.take(owner)
			c.mu.Unlock()
			return l, true
		}
		held := c.now().Sub(c.since)
		if held > c.holdLimit {
			if c.policy == FailOpen {
				c.log.Warn("reclaiming abandoned token", "holder", c.holder, "held", held, "owner", owner)
				metrics.TokenReclaims.Inc()
				l := c.take(owner)
				c.mu.Unlock()
				return l, true
			}
			if !warned {
				c.log.Warn("token held past limit", "holder", c.holder, "held", held, "waiter", owner)
				warned = true
			}
		}
		wait := c.released
		remaining := c.holdLimit - held
		c.mu.Unlock()

		// FailOpen needs to wake when the holder crosses the limit even if
		// nobody ever releases.
		var (
			rt      *time.Timer
			reclaim <-chan time.Time
		)
		if c.policy == FailOpen && remaining > 0 {
			rt = time.NewTimer(remaining + time.Millisecond)
			reclaim = rt.C
		}

		timedOut, cancelled := false, false
		select {
		case <-wait:
		case <-reclaim:
		case <-timer.C:
			timedOut = true
		case <-ctx.Done():
			cancelled = true
		}
		if rt != nil {
			rt.Stop()
		}
		if timedOut {
			metrics.TokenTimeouts.WithLabelValues(owner).Inc()
			holder, _ := c.Holder()
			c.log.Warn("token acquire timed out", "owner", owner, "holder", holder, "timeout", timeout)
			return nil, false
		}
		if cancelled {
			return nil, false
		}
	}
}

// take must be called with mu held.
func (c *Coordinator) take(owner string) *Lease {
	c.gen++
	c.holder = owner
	c.since = c.now()
	return &Lease{c: c, owner: owner, gen: c.gen}
}

// Release frees the token if owner holds it. Releasing a token one does not
// hold is a no-op. Goroutines sharing an owner name cannot tell their grants
// apart here; they should hold a Lease instead.
func (c *Coordinator) Release(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holder == "" || c.holder != owner {
		return
	}
	c.releaseLocked()
}

func (c *Coordinator) releaseLocked() {
	c.holder = ""
	c.since = time.Time{}
	close(c.released)
	c.released = make(chan struct{})
}

// Holder reports the current holder, if any.
func (c *Coordinator) Holder() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder, c.holder != ""
}

// WithToken runs fn while holding the token for owner. The token is
// released when fn returns or panics.
func (c *Coordinator) WithToken(ctx context.Context, owner string, timeout time.Duration, fn func(ctx context.Context) error) error {
	l, ok := c.AcquireLease(ctx, owner, timeout)
	if !ok {
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrTimeout
	}
	defer l.Release()
	return fn(ctx)
}

// Stop force-releases the token and fails all current and future waiters.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if c.holder != "" {
		c.log.Info("force releasing token on stop", "holder", c.holder)
		c.holder = ""
	}
	close(c.released)
}
