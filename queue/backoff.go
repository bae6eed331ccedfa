package queue

import (
	"runtime"
	"time"
)

// Backoff is the idle strategy of a polling loop: hot spin first, then yield
// the processor, then park for a fixed interval. Reset after any progress.
type Backoff struct {
	Spins  int
	Yields int
	Park   time.Duration

	idle int
}

// DefaultBackoff returns the backoff used when no other is configured.
func DefaultBackoff() Backoff {
	return Backoff{Spins: 100, Yields: 50, Park: 50 * time.Microsecond}
}

// Idle is called once per empty poll.
func (b *Backoff) Idle() {
	switch {
	case b.idle < b.Spins:
		// spin
	case b.idle < b.Spins+b.Yields:
		runtime.Gosched()
	default:
		time.Sleep(b.Park)
		return
	}
	b.idle++
}

// Reset returns to the spin phase.
func (b *Backoff) Reset() {
	b.idle = 0
}

// Phase reports the current phase: 0 spin, 1 yield, 2 park.
func (b *Backoff) Phase() int {
	switch {
	case b.idle < b.Spins:
		return 0
	case b.idle < b.Spins+b.Yields:
		return 1
	}
	return 2
}
