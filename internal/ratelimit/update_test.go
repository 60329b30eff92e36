package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTryProceedInterval(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	l := NewUpdateLimiter[string](2 * time.Second)
	l.now = clk.Now

	if !l.TryProceed("a") {
		t.Fatalf("expected first call to proceed")
	}
	if l.TryProceed("a") {
		t.Fatalf("expected second call within interval to be refused")
	}
	if !l.TryProceed("b") {
		t.Fatalf("expected independent key to proceed")
	}
	clk.Advance(1999 * time.Millisecond)
	if l.TryProceed("a") {
		t.Fatalf("expected refusal just before interval elapsed")
	}
	clk.Advance(time.Millisecond)
	if !l.TryProceed("a") {
		t.Fatalf("expected proceed once interval elapsed")
	}
}

func TestTryProceedConcurrentSingleWinner(t *testing.T) {
	l := NewUpdateLimiter[int64](time.Hour)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryProceed(42) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Fatalf("expected exactly 1 permit, got %d", won)
	}
}

func TestWaitSpacesPermits(t *testing.T) {
	interval := 30 * time.Millisecond
	l := NewUpdateLimiter[string](interval)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		times []time.Time
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(ctx, "chat"); err != nil {
				t.Errorf("wait: %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	first, last := times[0], times[0]
	for _, ts := range times {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	if span := last.Sub(first); span < 3*interval-5*time.Millisecond {
		t.Fatalf("expected permits spread over >= %v, got %v", 3*interval, span)
	}
}

func TestWaitDoesNotBlockOtherKeys(t *testing.T) {
	l := NewUpdateLimiter[string](time.Hour)
	if !l.TryProceed("busy") {
		t.Fatalf("seed permit refused")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, "idle"); err != nil {
		t.Fatalf("wait on idle key: %v", err)
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("idle key waited %v", d)
	}
}

func TestWaitCancelled(t *testing.T) {
	l := NewUpdateLimiter[string](time.Hour)
	l.TryProceed("k")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "k"); err == nil {
		t.Fatalf("expected context error")
	}
}
