package queue

import (
	"errors"
	"sync/atomic"
)

var (
	ErrQueueFull   = errors.New("queue: full")
	ErrQueueClosed = errors.New("queue: closed")
)

// Ring is a bounded multi-producer single-consumer ring buffer.
// Producers never block; the consumer drains it with Poll.
type Ring[T any] struct {
	_        [56]byte
	producer atomic.Int64
	_        [56]byte
	consumer atomic.Int64
	_        [56]byte

	buffer    []T
	published []int64
	mask      int64
	capacity  int64

	closed atomic.Bool
	// writers counts producers inside TryPublish.
	writers atomic.Int64
}

// NewRing creates a ring. capacity must be a power of 2.
func NewRing[T any](capacity int64) *Ring[T] {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		panic("queue: capacity must be a power of 2")
	}

	r := &Ring[T]{
		buffer:    make([]T, capacity),
		published: make([]int64, capacity),
		mask:      capacity - 1,
		capacity:  capacity,
	}
	r.producer.Store(-1)
	r.consumer.Store(-1)
	for i := range r.published {
		atomic.StoreInt64(&r.published[i], -1)
	}
	return r
}

// TryPublish claims a slot and writes ev into it. It is safe for concurrent
// producers and returns ErrQueueFull instead of waiting for the consumer.
func (r *Ring[T]) TryPublish(ev T) error {
	r.writers.Add(1)
	defer r.writers.Add(-1)

	var seq int64
	for {
		if r.closed.Load() {
			return ErrQueueClosed
		}

		cur := r.producer.Load()
		seq = cur + 1
		if seq-r.capacity > r.consumer.Load() {
			return ErrQueueFull
		}
		if r.producer.CompareAndSwap(cur, seq) {
			break
		}
	}

	idx := seq & r.mask
	r.buffer[idx] = ev
	atomic.StoreInt64(&r.published[idx], seq)
	return nil
}

// Poll hands up to max published events to fn in sequence order and returns
// how many were consumed. It never waits: a claimed slot whose producer has
// not finished writing ends the batch. Only the consumer may call Poll.
func (r *Ring[T]) Poll(fn func(T), max int) int {
	var zero T
	n := 0
	next := r.consumer.Load() + 1
	for n < max && next <= r.producer.Load() {
		idx := next & r.mask
		if atomic.LoadInt64(&r.published[idx]) != next {
			break
		}

		ev := r.buffer[idx]
		r.buffer[idx] = zero
		r.consumer.Store(next)
		n++
		next++

		fn(ev)
	}
	return n
}

// Close stops accepting new events. Events already claimed stay pollable.
func (r *Ring[T]) Close() {
	r.closed.Store(true)
}

// Drained reports whether the ring is closed and every event a producer
// managed to claim has been consumed. A producer that saw the ring open
// before Close keeps it undrained until its event is polled.
func (r *Ring[T]) Drained() bool {
	// writers is read before Len: a producer that left TryPublish has its
	// claim counted, one that has not entered yet sees closed.
	return r.closed.Load() && r.writers.Load() == 0 && r.Len() == 0
}

// Closed reports whether Close was called.
func (r *Ring[T]) Closed() bool {
	return r.closed.Load()
}

// Len returns the number of claimed but not yet consumed events.
func (r *Ring[T]) Len() int64 {
	return r.producer.Load() - r.consumer.Load()
}

// Cap returns the capacity of the ring.
func (r *Ring[T]) Cap() int64 {
	return r.capacity
}
