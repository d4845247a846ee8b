package eventloop

import (
	"iter"
	"sync"
)

// Queue hands values from producer goroutines to the loop. Its descriptor
// stays readable while values are pending.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify *Notifier
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue[T any]() (*Queue[T], error) {
	n, err := NewNotifier()
	if err != nil {
		return nil, err
	}
	return &Queue[T]{notify: n}, nil
}

// Push appends values and wakes the loop. Values pushed after Close are
// dropped.
func (q *Queue[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, items...)
	q.notify.Signal()
}

// Pop removes the oldest value.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		q.notify.Clear()
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.notify.Clear()
	}
	return item, true
}

// All yields the values pending at call time and any pushed while
// iterating. Values left when the consumer stops early stay queued.
func (q *Queue[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			item, ok := q.Pop()
			if !ok || !yield(item) {
				return
			}
		}
	}
}

// Len returns the number of pending values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Fd returns the readiness descriptor.
func (q *Queue[T]) Fd() int {
	return q.notify.Fd()
}

// Close releases the descriptor. Pending values are dropped.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	return q.notify.Close()
}
