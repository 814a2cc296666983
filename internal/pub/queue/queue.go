// Package queue provides a bounded multi-producer, single-consumer channel
// that applies backpressure to producers when the consumer falls behind.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultCapacity is the number of values the queue holds before senders block.
const DefaultCapacity = 10_000

var (
	// ErrDisconnected is returned to senders once the receiver has gone, and to
	// the receiver once every sender has closed and the buffer is empty.
	ErrDisconnected = errors.New("queue disconnected")
	// ErrTimeout is returned by Receive when nothing arrived within the wait.
	ErrTimeout = errors.New("queue receive timed out")
)

// Queue is a fixed-capacity channel with any number of Senders and one receiver.
type Queue[T any] struct {
	ch   chan T
	done chan struct{}

	mu      sync.Mutex
	senders int
	sealed  bool

	closeRecv sync.Once
}

func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Sender registers a new writer. The queue reports disconnection to the
// receiver only after every registered Sender has been closed, so all senders
// must be registered before any of them is closed.
func (q *Queue[T]) Sender() *Sender[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed {
		return &Sender[T]{q: q, closed: true}
	}
	q.senders++

	return &Sender[T]{q: q}
}

func (q *Queue[T]) releaseSender() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.senders--
	if q.senders == 0 && !q.sealed {
		q.sealed = true
		close(q.ch)
	}
}

// C exposes the receive side for select-style waits. The channel is closed
// once every sender has closed.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Receive returns the next value, ErrTimeout after the bounded wait, or
// ErrDisconnected once all senders are gone and the buffer is drained.
func (q *Queue[T]) Receive(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// CloseReceiver marks the consumer side as permanently gone. Blocked and
// future sends fail with ErrDisconnected. Values already buffered stay readable
// but nothing is obliged to read them.
func (q *Queue[T]) CloseReceiver() {
	q.closeRecv.Do(func() {
		close(q.done)
	})
}

// Len is the number of values currently buffered.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Sender is a single writer's handle on a Queue. A Sender must not be used
// from more than one goroutine.
type Sender[T any] struct {
	q      *Queue[T]
	closed bool
}

// Send enqueues v, blocking while the queue is full. It fails with
// ErrDisconnected, without blocking, once the receiver has closed.
func (s *Sender[T]) Send(ctx context.Context, v T) error {
	if s.closed {
		return ErrDisconnected
	}

	// checked first so a closed receiver wins over free capacity
	select {
	case <-s.q.done:
		return ErrDisconnected
	default:
	}

	select {
	case s.q.ch <- v:
		return nil
	case <-s.q.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the Sender. It is safe to call more than once.
func (s *Sender[T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.q.releaseSender()
}
