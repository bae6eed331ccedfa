package queue

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

// Outbox keeps the events a full ring could not take and passes them on, in
// order, once the ring has room again. Send and Flush belong to the single
// goroutine that produces the events; Len may be read from anywhere.
type Outbox[T any] struct {
	name    string
	publish func(T) error
	backlog []T
	held    atomic.Int64
}

// NewOutbox creates an outbox that hands events to publish. publish returns
// ErrQueueFull when the event should wait.
func NewOutbox[T any](name string, publish func(T) error) *Outbox[T] {
	return &Outbox[T]{name: name, publish: publish}
}

// Send publishes evs in order. Events that do not fit wait behind the ones
// already waiting.
func (o *Outbox[T]) Send(evs ...T) {
	for _, ev := range evs {
		if len(o.backlog) == 0 && o.try(ev) {
			continue
		}
		o.backlog = append(o.backlog, ev)
	}
	o.held.Store(int64(len(o.backlog)))
}

// Flush passes waiting events on until the destination is full again and
// reports whether any left the outbox.
func (o *Outbox[T]) Flush() bool {
	n := 0
	for n < len(o.backlog) && o.try(o.backlog[n]) {
		n++
	}
	if n == 0 {
		return false
	}

	rest := copy(o.backlog, o.backlog[n:])
	clear(o.backlog[rest:])
	o.backlog = o.backlog[:rest]
	o.held.Store(int64(rest))
	return true
}

// Len returns the number of waiting events.
func (o *Outbox[T]) Len() int64 {
	return o.held.Load()
}

// try reports whether ev left the outbox. An event refused for any reason
// other than a full destination is logged and dropped.
func (o *Outbox[T]) try(ev T) bool {
	err := o.publish(ev)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrQueueFull) {
		return false
	}
	logger.Error("outbox event dropped", zap.String("outbox", o.name), zap.Error(err))
	return true
}
