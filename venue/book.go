package venue

import (
	"github.com/huandu/skiplist"

	"github.com/0x5487/execution-engine/protocol"
)

// Resting is an opaque handle to a live book line. It is only handed out by
// the Book and becomes stale once the line leaves the book.
type Resting struct {
	childID string
	side    protocol.Side
	price   protocol.Price
	leaves  protocol.Qty
	time    int64
	live    bool

	level *priceLevel
	next  *Resting
	prev  *Resting
}

func (r *Resting) ChildID() string       { return r.childID }
func (r *Resting) Side() protocol.Side   { return r.side }
func (r *Resting) Price() protocol.Price { return r.price }
func (r *Resting) Leaves() protocol.Qty  { return r.leaves }
func (r *Resting) Time() int64           { return r.time }
func (r *Resting) Live() bool            { return r != nil && r.live }

type priceLevel struct {
	price protocol.Price
	total protocol.Qty
	head  *Resting
	tail  *Resting
	count int64
}

// halfBook holds one side of the book, best level first.
type halfBook struct {
	side   protocol.Side
	orders int64
	levels *skiplist.SkipList
	index  map[protocol.Price]*skiplist.Element
}

func newBidBook() *halfBook {
	return &halfBook{
		side: protocol.SideBuy,
		levels: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(protocol.Price)
			p2, _ := rhs.(protocol.Price)

			// highest price first
			if p1 < p2 {
				return 1
			} else if p1 > p2 {
				return -1
			}
			return 0
		})),
		index: make(map[protocol.Price]*skiplist.Element),
	}
}

func newAskBook() *halfBook {
	return &halfBook{
		side: protocol.SideSell,
		levels: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(protocol.Price)
			p2, _ := rhs.(protocol.Price)

			if p1 > p2 {
				return 1
			} else if p1 < p2 {
				return -1
			}
			return 0
		})),
		index: make(map[protocol.Price]*skiplist.Element),
	}
}

func (h *halfBook) pushBack(r *Resting) {
	el, ok := h.index[r.price]
	if !ok {
		lvl := &priceLevel{price: r.price}
		el = h.levels.Set(r.price, lvl)
		h.index[r.price] = el
	}
	lvl, _ := el.Value.(*priceLevel)

	r.level = lvl
	r.prev = lvl.tail
	r.next = nil
	if lvl.tail != nil {
		lvl.tail.next = r
	}
	lvl.tail = r
	if lvl.head == nil {
		lvl.head = r
	}

	lvl.total += r.leaves
	lvl.count++
	h.orders++
}

func (h *halfBook) unlink(r *Resting) {
	lvl := r.level
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		lvl.head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		lvl.tail = r.prev
	}
	r.next = nil
	r.prev = nil
	r.level = nil

	lvl.total -= r.leaves
	lvl.count--
	h.orders--

	if lvl.count == 0 {
		if el, ok := h.index[lvl.price]; ok {
			h.levels.RemoveElement(el)
			delete(h.index, lvl.price)
		}
	}
}

func (h *halfBook) head() *Resting {
	el := h.levels.Front()
	if el == nil {
		return nil
	}
	lvl, _ := el.Value.(*priceLevel)
	return lvl.head
}

func (h *halfBook) depth(limit int) []Level {
	result := make([]Level, 0, limit)
	for el := h.levels.Front(); el != nil && len(result) < limit; el = el.Next() {
		lvl, _ := el.Value.(*priceLevel)
		result = append(result, Level{Price: lvl.price, Qty: lvl.total, Orders: lvl.count})
	}
	return result
}

// Level is one aggregated price level.
type Level struct {
	Price  protocol.Price
	Qty    protocol.Qty
	Orders int64
}

// Depth is an aggregated view of both sides of a book.
type Depth struct {
	Bids []Level
	Asks []Level
}

// BookStats counts levels and orders per side.
type BookStats struct {
	BidLevels int64
	BidOrders int64
	AskLevels int64
	AskOrders int64
}

// Book is a price-time priority book for one instrument. Bids are ordered by
// price descending, asks by price ascending, ties by insertion time.
// It is not safe for concurrent use.
type Book struct {
	bids *halfBook
	asks *halfBook
	refs map[string]*Resting
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		bids: newBidBook(),
		asks: newAskBook(),
		refs: make(map[string]*Resting),
	}
}

func (b *Book) half(side protocol.Side) *halfBook {
	if side == protocol.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert rests qty at price on side at the back of its level.
func (b *Book) Insert(childID string, side protocol.Side, price protocol.Price, qty protocol.Qty, ts int64) (*Resting, error) {
	if qty <= 0 {
		return nil, ErrInvalidQty
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	if _, ok := b.refs[childID]; ok {
		return nil, ErrDuplicateOrder
	}

	r := &Resting{childID: childID, side: side, price: price, leaves: qty, time: ts, live: true}
	b.half(side).pushBack(r)
	b.refs[childID] = r
	return r, nil
}

// BestContra returns the line an incoming order on side would meet first,
// without removing it.
func (b *Book) BestContra(side protocol.Side) *Resting {
	return b.half(side.Opposite()).head()
}

// PopBestContra removes and returns the best contra line. The returned handle
// is stale but its fields stay readable.
func (b *Book) PopBestContra(side protocol.Side) *Resting {
	r := b.BestContra(side)
	if r != nil {
		b.remove(r)
	}
	return r
}

// AvailableImmediately sums the contra quantity an order on side could take
// right now, walking levels best to worst and stopping at the first level a
// limit order does not cross.
func (b *Book) AvailableImmediately(side protocol.Side, isMarket bool, limit protocol.Price) protocol.Qty {
	var total protocol.Qty
	contra := b.half(side.Opposite())
	for el := contra.levels.Front(); el != nil; el = el.Next() {
		lvl, _ := el.Value.(*priceLevel)
		if !Crosses(side, isMarket, limit, lvl.price) {
			break
		}
		total += lvl.total
	}
	return total
}

// Reprice moves a line to a new price. The line joins the back of the new
// level and the old handle becomes stale.
func (b *Book) Reprice(r *Resting, price protocol.Price) (*Resting, error) {
	if !r.Live() {
		return nil, ErrStaleHandle
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	b.remove(r)
	return b.Insert(r.childID, r.side, price, r.leaves, r.time)
}

// Requantify changes the leaves of a line in place, keeping its priority.
func (b *Book) Requantify(r *Resting, leaves protocol.Qty) error {
	if !r.Live() {
		return ErrStaleHandle
	}
	if leaves <= 0 {
		return ErrInvalidQty
	}

	r.level.total += leaves - r.leaves
	r.leaves = leaves
	return nil
}

// Remove takes a line off the book.
func (b *Book) Remove(r *Resting) error {
	if !r.Live() {
		return ErrStaleHandle
	}
	b.remove(r)
	return nil
}

func (b *Book) remove(r *Resting) {
	b.half(r.side).unlink(r)
	delete(b.refs, r.childID)
	r.live = false
}

// Lookup returns the live line of childID, or nil.
func (b *Book) Lookup(childID string) *Resting {
	return b.refs[childID]
}

// Depth returns up to limit aggregated levels per side.
func (b *Book) Depth(limit int) Depth {
	return Depth{Bids: b.bids.depth(limit), Asks: b.asks.depth(limit)}
}

// Stats returns level and order counts.
func (b *Book) Stats() BookStats {
	return BookStats{
		BidLevels: int64(b.bids.levels.Len()),
		BidOrders: b.bids.orders,
		AskLevels: int64(b.asks.levels.Len()),
		AskOrders: b.asks.orders,
	}
}
