package pipeline

import (
	"context"
	"time"
)

// Bus is a bounded FIFO with a single consumer. Offer never blocks.
type Bus[T any] struct {
	name string
	ch   chan T
}

func NewBus[T any](name string, capacity int) *Bus[T] {
	return &Bus[T]{name: name, ch: make(chan T, max(capacity, 1))}
}

func (b *Bus[T]) Name() string { return b.name }

// Offer enqueues v, or reports false when the bus is full.
func (b *Bus[T]) Offer(v T) bool {
	select {
	case b.ch <- v:
		return true
	default:
		return false
	}
}

// Poll waits up to timeout for the next item.
func (b *Bus[T]) Poll(ctx context.Context, timeout time.Duration) (T, bool) {
	var zero T
	select {
	case v := <-b.ch:
		return v, true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case v := <-b.ch:
		return v, true
	case <-t.C:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// C exposes the channel to a consumer that selects over several sources.
func (b *Bus[T]) C() <-chan T { return b.ch }

func (b *Bus[T]) Len() int { return len(b.ch) }

// queue is the unbounded FIFO for events the pipeline generates for itself.
// Only the pipeline goroutine touches it.
type queue[T any] struct {
	items []T
}

func (q *queue[T]) push(v ...T) { q.items = append(q.items, v...) }

func (q *queue[T]) pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *queue[T]) len() int { return len(q.items) }
