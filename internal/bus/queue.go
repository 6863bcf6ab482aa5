package bus

import (
	"context"
	"sync"

	"tradecore/pkg/exception"
)

// Queue is a bounded, non-blocking queue between one producer side and one
// consumer goroutine.
type Queue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPublish enqueues a value without blocking.
func (q *Queue[T]) TryPublish(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Len is the number of queued values.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new values. Values already queued
// are still delivered by Run.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Run consumes values until the queue is closed and drained, or ctx is done.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-q.ch:
			if !ok {
				return
			}
			handler(v)
		}
	}
}

// Drain hands every queued value to handler without blocking.
func (q *Queue[T]) Drain(handler func(T)) int {
	n := 0
	for {
		select {
		case v, ok := <-q.ch:
			if !ok {
				return n
			}
			handler(v)
			n++
		default:
			return n
		}
	}
}
