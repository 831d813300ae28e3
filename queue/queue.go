package queue

import "sync"

// Queue is a generic bounded FIFO queue that is safe for one producer and
// any number of consumers. Ready signals that items may be available.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	ready    chan struct{}
}

// New creates a queue holding at most capacity items. A capacity of zero or
// less means unbounded.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		items:    []T{},
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue adds an element to the end of the queue. It returns false and
// leaves the queue unchanged when the queue is full.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes and returns the front element of the queue.
// The boolean indicates whether an element was dequeued (false if the queue was empty).
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Ready receives a value after each Enqueue that found no pending signal.
// Consumers should drain with Dequeue until it reports false before waiting again.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Clear discards every queued element and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = []T{}
	return n
}

// Len returns the number of elements in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
