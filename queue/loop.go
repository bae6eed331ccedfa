package queue

import (
	"context"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultBatch = 256

// Loop is the single consumer of a Ring. Every event is handled on the
// goroutine running Start, so handlers own their state without locking.
type Loop[T any] struct {
	name     string
	ring     *Ring[T]
	handle   func(T)
	backoff  Backoff
	batch    int
	flushers []Flusher

	busy       atomic.Bool
	isShutdown atomic.Bool
	done       chan struct{}
	stopped    chan struct{}
}

// Option configures a Loop.
type Option func(*options)

type options struct {
	backoff  Backoff
	batch    int
	flushers []Flusher
}

// Flusher is output held back by a loop's handler. The loop flushes it before
// every poll and counts it as pending work.
type Flusher interface {
	Flush() bool
	Len() int64
}

// WithBackoff sets the idle strategy.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// WithBatch sets the maximum number of events handled per poll.
func WithBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batch = n
		}
	}
}

// WithFlusher has the loop flush f between polls.
func WithFlusher(f Flusher) Option {
	return func(o *options) {
		o.flushers = append(o.flushers, f)
	}
}

// NewLoop creates a loop named name that feeds events from ring to handle.
func NewLoop[T any](name string, ring *Ring[T], handle func(T), opts ...Option) *Loop[T] {
	o := options{backoff: DefaultBackoff(), batch: defaultBatch}
	for _, opt := range opts {
		opt(&o)
	}

	return &Loop[T]{
		name:     name,
		ring:     ring,
		handle:   handle,
		backoff:  o.backoff,
		batch:    o.batch,
		flushers: o.flushers,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Name returns the loop name.
func (l *Loop[T]) Name() string {
	return l.name
}

// Ring returns the inbound ring.
func (l *Loop[T]) Ring() *Ring[T] {
	return l.ring
}

// Start runs the loop until Shutdown is called and the ring is drained.
func (l *Loop[T]) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logger.Debug("loop started", zap.String("loop", l.name))
	for {
		select {
		case <-l.done:
			return l.drain()
		default:
		}

		flushed := l.flush()
		if l.ring.Len() > 0 {
			l.busy.Store(true)
			n := l.ring.Poll(l.safeHandle, l.batch)
			l.busy.Store(false)
			if n > 0 {
				l.backoff.Reset()
				continue
			}
		}
		if flushed {
			l.backoff.Reset()
			continue
		}
		l.backoff.Idle()
	}
}

// Shutdown stops accepting events and waits until everything already queued
// has been handled, or ctx is done.
func (l *Loop[T]) Shutdown(ctx context.Context) error {
	if l.isShutdown.CompareAndSwap(false, true) {
		l.ring.Close()
		close(l.done)
	}

	select {
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Idle reports whether the ring is empty, no event is being handled and no
// output is held back.
func (l *Loop[T]) Idle() bool {
	return l.ring.Len() == 0 && !l.busy.Load() && l.held() == 0
}

// drain runs until every event claimed before Close has been handled and the
// held-back output has left.
func (l *Loop[T]) drain() error {
	defer close(l.stopped)

	for !l.ring.Drained() || l.held() > 0 {
		flushed := l.flush()
		if l.ring.Poll(l.safeHandle, l.batch) == 0 && !flushed {
			runtime.Gosched()
		}
	}
	logger.Debug("loop stopped", zap.String("loop", l.name))
	return nil
}

func (l *Loop[T]) flush() bool {
	flushed := false
	for _, f := range l.flushers {
		if f.Len() > 0 && f.Flush() {
			flushed = true
		}
	}
	return flushed
}

func (l *Loop[T]) held() int64 {
	var n int64
	for _, f := range l.flushers {
		n += f.Len()
	}
	return n
}

// safeHandle contains a panicking handler to the event that caused it.
func (l *Loop[T]) safeHandle(ev T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panic",
				zap.String("loop", l.name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	l.handle(ev)
}
