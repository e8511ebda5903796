package queue

import (
	"errors"
	"fmt"
)

var (
	ErrZeroCapacity = errors.New("queue capacity must be positive")
	ErrOutOfBounds  = errors.New("index out of bounds")
)

// Bounded is a fixed-capacity FIFO that evicts its oldest element when full.
// It is not safe for concurrent use; pipe.Shared adds the locking.
type Bounded[T any] struct {
	items []T
	head  int
	count int
}

// NewBounded creates a queue holding at most maxCapacity elements.
func NewBounded[T any](maxCapacity int) (*Bounded[T], error) {
	if maxCapacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrZeroCapacity, maxCapacity)
	}

	return &Bounded[T]{
		items: make([]T, maxCapacity),
	}, nil
}

// PushBack appends item at the back. When the queue is already full the front
// element is removed first and returned with ok set to true.
func (q *Bounded[T]) PushBack(item T) (evicted T, ok bool) {
	size := len(q.items)

	if q.count < size {
		q.items[(q.head+q.count)%size] = item
		q.count++

		return evicted, false
	}

	evicted = q.items[q.head]
	q.items[q.head] = item
	q.head = (q.head + 1) % size

	return evicted, true
}

// PopFront removes and returns the oldest element.
func (q *Bounded[T]) PopFront() (T, bool) {
	var zero T

	if q.count == 0 {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--

	return item, true
}

// Front returns the oldest element without removing it.
func (q *Bounded[T]) Front() (T, bool) {
	if q.count == 0 {
		var zero T

		return zero, false
	}

	return q.items[q.head], true
}

// At returns the i-th element counting from the front.
func (q *Bounded[T]) At(i int) (T, error) {
	if err := q.checkIndex(i); err != nil {
		var zero T

		return zero, err
	}

	return q.items[q.slot(i)], nil
}

// Set replaces the i-th element counting from the front.
func (q *Bounded[T]) Set(i int, item T) error {
	if err := q.checkIndex(i); err != nil {
		return err
	}

	q.items[q.slot(i)] = item

	return nil
}

// Len returns the number of stored elements.
func (q *Bounded[T]) Len() int {
	return q.count
}

// Cap returns the fixed maximum capacity.
func (q *Bounded[T]) Cap() int {
	return len(q.items)
}

func (q *Bounded[T]) IsFull() bool {
	return q.count == len(q.items)
}

// Snapshot copies the stored elements, oldest first.
func (q *Bounded[T]) Snapshot() []T {
	out := make([]T, q.count)
	for i := range out {
		out[i] = q.items[q.slot(i)]
	}

	return out
}

// Clear drops every element. Capacity is unchanged.
func (q *Bounded[T]) Clear() {
	clear(q.items)
	q.head = 0
	q.count = 0
}

func (q *Bounded[T]) slot(i int) int {
	return (q.head + i) % len(q.items)
}

func (q *Bounded[T]) checkIndex(i int) error {
	if i < 0 || i >= q.count {
		return fmt.Errorf("%w: index %d, length %d", ErrOutOfBounds, i, q.count)
	}

	return nil
}
