package pipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("shared pipe handle is closed")

type sharedState[T any] struct {
	pipe *Pipe[T]
	sem  *semaphore.Weighted

	mu   sync.Mutex
	refs int
}

// Shared is a handle to a Pipe guarded by a single lock. Handles made with
// Clone share the pipe and the lock; the pipe is closed when the last
// handle is closed. The pipe is only reachable inside With callbacks, so
// every mutation and its status report happen under the lock.
type Shared[T any] struct {
	state    *sharedState[T]
	released atomic.Bool
}

// NewShared creates a pipe as New does and wraps it in a Shared handle.
func NewShared[T any](ctx context.Context, maxCapacity int, address, name string, opts ...Option) (*Shared[T], error) {
	p, err := New[T](ctx, maxCapacity, address, name, opts...)
	if err != nil {
		return nil, err
	}

	return &Shared[T]{
		state: &sharedState[T]{
			pipe: p,
			sem:  semaphore.NewWeighted(1),
			refs: 1,
		},
	}, nil
}

// Clone returns a new handle to the same pipe. Cloning a closed handle
// returns a closed handle.
func (s *Shared[T]) Clone() *Shared[T] {
	clone := &Shared[T]{state: s.state}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.released.Load() || s.state.refs == 0 {
		clone.released.Store(true)

		return clone
	}

	s.state.refs++

	return clone
}

// Close releases this handle. Closing the last handle waits for the lock
// and closes the pipe. Closing a handle twice is a no-op.
func (s *Shared[T]) Close() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}

	s.state.mu.Lock()
	s.state.refs--
	last := s.state.refs == 0
	s.state.mu.Unlock()

	if !last {
		return nil
	}

	return s.withLock(func(p *Pipe[T]) error { return p.Close() })
}

// withLock runs fn under the lock without checking the handle state.
func (s *Shared[T]) withLock(fn func(*Pipe[T]) error) error {
	if err := s.state.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.state.sem.Release(1)

	return fn(s.state.pipe)
}

// With runs fn with exclusive access to the pipe. The lock is released when
// fn returns or panics.
func (s *Shared[T]) With(fn func(*Pipe[T]) error) error {
	return s.WithContext(context.Background(), fn)
}

// WithContext is like With but gives up waiting for the lock when ctx is
// done.
func (s *Shared[T]) WithContext(ctx context.Context, fn func(*Pipe[T]) error) error {
	if s.released.Load() {
		return ErrClosed
	}

	if err := s.state.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire pipe %s: %w", s.state.pipe.name, err)
	}
	defer s.state.sem.Release(1)

	return fn(s.state.pipe)
}

// TryWith runs fn only if the lock is free, and reports whether it ran.
func (s *Shared[T]) TryWith(fn func(*Pipe[T]) error) (bool, error) {
	if s.released.Load() {
		return false, ErrClosed
	}

	if !s.state.sem.TryAcquire(1) {
		return false, nil
	}
	defer s.state.sem.Release(1)

	return true, fn(s.state.pipe)
}

// Name and Cap never change, so they do not take the lock.
func (s *Shared[T]) Name() string { return s.state.pipe.Name() }
func (s *Shared[T]) Cap() int     { return s.state.pipe.Cap() }

// The methods below each hold the lock for one operation including its
// status report. They panic with ErrClosed on a closed handle.

func (s *Shared[T]) PushBack(item T) (evicted T, ok bool) {
	s.must(func(p *Pipe[T]) { evicted, ok = p.PushBack(item) })

	return evicted, ok
}

func (s *Shared[T]) PopFront() (item T, ok bool) {
	s.must(func(p *Pipe[T]) { item, ok = p.PopFront() })

	return item, ok
}

func (s *Shared[T]) Len() (n int) {
	s.must(func(p *Pipe[T]) { n = p.Len() })

	return n
}

func (s *Shared[T]) At(i int) (item T, err error) {
	s.must(func(p *Pipe[T]) { item, err = p.At(i) })

	return item, err
}

func (s *Shared[T]) Snapshot() (items []T) {
	s.must(func(p *Pipe[T]) { items = p.Snapshot() })

	return items
}

func (s *Shared[T]) must(fn func(*Pipe[T])) {
	err := s.With(func(p *Pipe[T]) error {
		fn(p)

		return nil
	})
	if err != nil {
		panic(err)
	}
}
