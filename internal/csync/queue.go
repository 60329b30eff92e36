package csync

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO. Push never blocks; Pop blocks until an item
// is available, the context ends or the queue is closed. Any number of
// goroutines may Pop concurrently.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	signal chan struct{}
	done   chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It reports false when the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// pass the wakeup on so another idle consumer picks up the rest
				q.wake()
			}
			return v, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.signal:
		case <-q.done:
		}
	}
}

// Remove deletes the first item matching pred and returns it.
func (q *Queue[T]) Remove(pred func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, v := range q.items {
		if pred(v) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued items in FIFO order.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Close stops the queue and returns the items that were never popped.
// Blocked and future Pop calls return ErrClosed.
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	rest := q.items
	q.items = nil
	return rest
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
