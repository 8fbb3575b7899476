// Package framequeue buffers captured audio between the capture callback and
// the polling loop.
package framequeue

import "sync"

// Queue is an unbounded FIFO. Push never blocks and never drops; TryPop never
// waits. It is safe for one producer and one consumer running concurrently.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

// New creates and returns an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends an item to the end of the queue.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// TryPop removes and returns the front item. The boolean is false when the
// queue is empty.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head >= 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
