// Package dedup remembers the most recent execution ids so a redelivered
// fill is applied once.
package dedup

// Key identifies one execution of one child order.
type Key struct {
	ChildID string
	ExecID  string
}

// Window is a bounded FIFO set of keys. A key is a duplicate only while it
// is among the last Cap() keys inserted; after eviction it counts as new again.
// It is not safe for concurrent use.
type Window struct {
	ring []Key
	next int
	size int
	set  map[Key]struct{}
}

// New creates a window holding up to capacity keys.
func New(capacity int) *Window {
	if capacity <= 0 {
		panic("dedup: capacity must be positive")
	}
	return &Window{
		ring: make([]Key, capacity),
		set:  make(map[Key]struct{}, capacity),
	}
}

// Seen reports whether k is inside the window. When it is not, k is inserted,
// evicting the oldest key if the window is full.
func (w *Window) Seen(k Key) bool {
	if _, ok := w.set[k]; ok {
		return true
	}

	if w.size == len(w.ring) {
		delete(w.set, w.ring[w.next])
	} else {
		w.size++
	}
	w.ring[w.next] = k
	w.set[k] = struct{}{}
	w.next = (w.next + 1) % len(w.ring)
	return false
}

// Len returns the number of keys held.
func (w *Window) Len() int {
	return w.size
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.ring)
}
