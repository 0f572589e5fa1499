package queue

import "sync"

// Queue is an unbounded FIFO safe for concurrent use.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Enqueue appends v and returns the new length.
func (q *Queue[T]) Enqueue(v T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
	return len(q.items)
}

// Dequeue removes the oldest item.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Drain removes every queued item and passes each to fn in arrival order.
// Items enqueued while draining are delivered too. It returns the number
// of items delivered.
func (q *Queue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		batch := q.take()
		if len(batch) == 0 {
			return n
		}
		for _, v := range batch {
			fn(v)
		}
		n += len(batch)
	}
}

func (q *Queue[T]) take() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.items
	q.items = nil
	return batch
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued item and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
