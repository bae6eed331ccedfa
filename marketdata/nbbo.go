package marketdata

import (
	"errors"
	"sync/atomic"

	"github.com/0x5487/execution-engine/protocol"
)

var ErrUnknownInstrument = errors.New("marketdata: unknown instrument")

// Snapshot is the best bid and offer at one point in time. A side is absent
// when its Has flag is false. Snapshots are never mutated after publication.
type Snapshot struct {
	Bid       protocol.Price
	Ask       protocol.Price
	HasBid    bool
	HasAsk    bool
	Timestamp int64
}

// Quote builds a two-sided snapshot.
func Quote(bid, ask protocol.Price, ts int64) Snapshot {
	return Snapshot{Bid: bid, Ask: ask, HasBid: true, HasAsk: true, Timestamp: ts}
}

// Contra returns the price an order on side would trade against: the ask for
// buys, the bid for sells.
func (s *Snapshot) Contra(side protocol.Side) (protocol.Price, bool) {
	if side == protocol.SideBuy {
		return s.Ask, s.HasAsk
	}
	return s.Bid, s.HasBid
}

var empty = &Snapshot{}

// Cache holds the latest snapshot of one instrument. Update has a single
// writer; Load may be called from any goroutine and never blocks.
type Cache struct {
	snap atomic.Pointer[Snapshot]
}

// NewCache creates a cache with both sides absent.
func NewCache() *Cache {
	c := &Cache{}
	c.snap.Store(empty)
	return c
}

// Load returns the current snapshot. The result is never nil.
func (c *Cache) Load() *Snapshot {
	return c.snap.Load()
}

// Update replaces the snapshot wholesale.
func (c *Cache) Update(s Snapshot) {
	c.snap.Store(&s)
}

// Feed is the fixed set of caches, one per instrument, built at setup.
type Feed struct {
	caches map[string]*Cache
}

// NewFeed creates a feed for the given instruments.
func NewFeed(instruments ...string) *Feed {
	f := &Feed{caches: make(map[string]*Cache, len(instruments))}
	for _, in := range instruments {
		f.caches[in] = NewCache()
	}
	return f
}

// Cache returns the cache of instrument, or nil when it is not configured.
func (f *Feed) Cache(instrument string) *Cache {
	return f.caches[instrument]
}

// Update replaces the snapshot of instrument.
func (f *Feed) Update(instrument string, s Snapshot) error {
	c, ok := f.caches[instrument]
	if !ok {
		return ErrUnknownInstrument
	}
	c.Update(s)
	return nil
}

// Has reports whether instrument is configured.
func (f *Feed) Has(instrument string) bool {
	_, ok := f.caches[instrument]
	return ok
}

// Instruments returns the number of configured instruments.
func (f *Feed) Instruments() int {
	return len(f.caches)
}
