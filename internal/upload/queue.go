// Package upload moves local files into object storage and accounts for the outcome of every file.
package upload

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tphakala/migration-assistant/internal/errors"
)

var (
	// ErrQueueFull is returned by Put once capacity items have been added.
	ErrQueueFull = errors.NewStd("upload queue is full")

	// ErrQueueClosed is returned by Put after Close.
	ErrQueueClosed = errors.NewStd("upload queue is closed")
)

// Queue is a bounded work queue whose capacity is the exact number of items
// that will pass through it. Once capacity items have been put the queue
// seals itself, and it is drained when every sealed item has been taken.
type Queue[T any] struct {
	items    chan T
	capacity int

	mu     sync.Mutex
	puts   int
	closed bool

	taken atomic.Int64
}

// NewQueue creates a queue for exactly capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	capacity = max(capacity, 0)
	q := &Queue[T]{
		items:    make(chan T, capacity),
		capacity: capacity,
	}
	if capacity == 0 {
		q.closed = true
		close(q.items)
	}
	return q
}

// Put adds an item. It never blocks.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.puts >= q.capacity {
		return ErrQueueFull
	}
	if q.closed {
		return ErrQueueClosed
	}

	q.items <- item
	q.puts++
	if q.puts == q.capacity {
		q.closed = true
		close(q.items)
	}
	return nil
}

// Close seals the queue early, for producers that put fewer items than planned.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.items)
	}
}

// Take returns the next item. ok is false once the queue is drained or ctx is done.
func (q *Queue[T]) Take(ctx context.Context) (item T, ok bool) {
	select {
	case <-ctx.Done():
		return item, false
	default:
	}

	select {
	case item, ok = <-q.items:
		if ok {
			q.taken.Add(1)
		}
		return item, ok
	case <-ctx.Done():
		return item, false
	}
}

// Drained reports whether the queue is sealed and every item has been taken.
func (q *Queue[T]) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && q.taken.Load() == int64(q.puts)
}

// Capacity returns the number of items the queue was created for.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Len returns the number of items put but not yet taken.
func (q *Queue[T]) Len() int {
	return len(q.items)
}
