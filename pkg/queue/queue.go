// Package queue provides a bounded single-producer/single-consumer queue
// that is split into a producer half and a consumer half, so each side can
// be handed to a different owner.
package queue

import (
	"time"

	"github.com/pkg/errors"
)

const (
	// ResponseCapacity bounds the command reply queue. One command is in
	// flight at a time, so this only has to absorb a stray extra reply.
	ResponseCapacity = 2
	// NotificationCapacity bounds the unsolicited event queue.
	NotificationCapacity = 16
)

// ErrTimeout is returned by Consumer.Wait when the deadline passes first.
var ErrTimeout = errors.New("queue: timed out waiting for value")

// Producer is the write half of a queue.
type Producer[T any] struct {
	ch chan<- T
}

// Consumer is the read half of a queue.
type Consumer[T any] struct {
	ch <-chan T
}

// Split allocates a queue holding at most capacity values and returns its
// two halves.
func Split[T any](capacity int) (Producer[T], Consumer[T]) {
	ch := make(chan T, capacity)
	return Producer[T]{ch: ch}, Consumer[T]{ch: ch}
}

// Enqueue adds v without blocking. It reports false when the queue is full
// and v was not stored.
func (p Producer[T]) Enqueue(v T) bool {
	select {
	case p.ch <- v:
		return true
	default:
		return false
	}
}

// Dequeue removes the oldest value without blocking.
func (c Consumer[T]) Dequeue() (T, bool) {
	select {
	case v := <-c.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until a value is available. A timeout of zero or less waits
// forever.
func (c Consumer[T]) Wait(timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return <-c.ch, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-c.ch:
		return v, nil
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

// Len reports how many values are queued.
func (c Consumer[T]) Len() int {
	return len(c.ch)
}
