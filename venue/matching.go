package venue

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/0x5487/execution-engine/dedup"
	"github.com/0x5487/execution-engine/marketdata"
	"github.com/0x5487/execution-engine/protocol"
)

const defaultCommandWindow = 1 << 16

// Sequence allocates venue-local identifiers of the form <venue>-<n>.
type Sequence struct {
	prefix string
	n      uint64
}

// NewSequence creates a sequence for venue.
func NewSequence(venue string) *Sequence {
	return &Sequence{prefix: venue + "-"}
}

// Next returns the next identifier.
func (s *Sequence) Next() string {
	s.n++
	return s.prefix + strconv.FormatUint(s.n, 10)
}

// venueOrder mirrors a child order inside the venue.
type venueOrder struct {
	childID      string
	clOrdID      string
	venueOrderID string
	side         protocol.Side
	typ          protocol.OrderType
	tif          protocol.TimeInForce
	price        protocol.Price
	qty          protocol.Qty
	cum          protocol.Qty
	ref          *Resting
}

func (o *venueOrder) leaves() protocol.Qty {
	return o.qty - o.cum
}

// Matcher applies venue commands for one instrument to its book.
// It is confined to the venue loop.
type Matcher struct {
	venue      string
	instrument string
	book       *Book
	orders     map[string]*venueOrder
	ids        *Sequence
	commands   *dedup.Window
	nbbo       *marketdata.Cache
	strategies []Strategy
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithNBBO sets the market data the strategies price against.
func WithNBBO(c *marketdata.Cache) MatcherOption {
	return func(m *Matcher) {
		m.nbbo = c
	}
}

// WithStrategies replaces the strategy chain. The default chain only matches.
func WithStrategies(s ...Strategy) MatcherOption {
	return func(m *Matcher) {
		m.strategies = s
	}
}

// WithCommandWindow sets how many command ids are remembered for idempotency.
func WithCommandWindow(n int) MatcherOption {
	return func(m *Matcher) {
		m.commands = dedup.New(n)
	}
}

// WithSequence shares an id sequence between matchers of one venue.
func WithSequence(s *Sequence) MatcherOption {
	return func(m *Matcher) {
		m.ids = s
	}
}

// NewMatcher creates a matcher for instrument on venue.
func NewMatcher(venue, instrument string, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		venue:      venue,
		instrument: instrument,
		book:       NewBook(),
		orders:     make(map[string]*venueOrder),
		strategies: []Strategy{Matching{}},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ids == nil {
		m.ids = NewSequence(venue)
	}
	if m.commands == nil {
		m.commands = dedup.New(defaultCommandWindow)
	}
	if m.nbbo == nil {
		m.nbbo = marketdata.NewCache()
	}
	return m
}

// Book exposes the book for inspection.
func (m *Matcher) Book() *Book {
	return m.book
}

// NBBO returns the current market snapshot.
func (m *Matcher) NBBO() *marketdata.Snapshot {
	return m.nbbo.Load()
}

// Execute runs cmd through the strategy chain once per command id.
func (m *Matcher) Execute(cmd protocol.VenueCommand) Execution {
	if !m.accept(cmd.Cmd()) {
		return Execution{}
	}
	return Run(m.strategies, m, cmd)
}

// OnNew places a child order, bypassing the strategy chain.
func (m *Matcher) OnNew(cmd protocol.NewChild) Execution {
	if !m.accept(cmd.CommandHeader) {
		return Execution{}
	}
	return m.onNew(cmd)
}

// OnCancel cancels a resting child order. Unknown orders are a no-op.
func (m *Matcher) OnCancel(cmd protocol.CancelChild) Execution {
	if !m.accept(cmd.CommandHeader) {
		return Execution{}
	}
	return m.onCancel(cmd)
}

// OnReplace changes quantity and price of a resting child order.
func (m *Matcher) OnReplace(cmd protocol.ReplaceChild) Execution {
	if !m.accept(cmd.CommandHeader) {
		return Execution{}
	}
	return m.onReplace(cmd)
}

// accept reports whether the command id has not been processed before.
func (m *Matcher) accept(h protocol.CommandHeader) bool {
	if h.CommandID == "" {
		return true
	}
	return !m.commands.Seen(dedup.Key{ChildID: h.ChildID, ExecID: h.CommandID})
}

func (m *Matcher) onNew(cmd protocol.NewChild) Execution {
	if reason, ok := m.validateNew(cmd); !ok {
		return Execution{Reject: &protocol.VenueRejected{
			ReportHeader: m.header(cmd.CommandHeader, cmd.ClOrdID, ""),
			Request:      protocol.RequestNew,
			Reason:       reason,
		}}
	}

	o := &venueOrder{
		childID:      cmd.ChildID,
		clOrdID:      cmd.ClOrdID,
		venueOrderID: m.ids.Next(),
		side:         cmd.Side,
		typ:          cmd.Type,
		tif:          cmd.TIF,
		price:        cmd.Price,
		qty:          cmd.Qty,
	}

	exec := Execution{Acks: []protocol.VenueAck{{
		ReportHeader: m.orderHeader(o, cmd.CommandHeader),
		Qty:          o.qty,
		Price:        o.price,
	}}}
	exec.Merge(m.cross(o, cmd.CommandHeader))
	return exec
}

func (m *Matcher) validateNew(cmd protocol.NewChild) (protocol.RejectReason, bool) {
	switch {
	case cmd.Instrument != m.instrument:
		return protocol.RejectReasonInvalidInstrument, false
	case cmd.Qty <= 0:
		return protocol.RejectReasonInvalidQty, false
	case cmd.Type != protocol.OrderTypeMarket && cmd.Type != protocol.OrderTypeLimit:
		return protocol.RejectReasonUnsupportedType, false
	case !cmd.TIF.Valid():
		return protocol.RejectReasonUnsupportedType, false
	case cmd.Type == protocol.OrderTypeLimit && cmd.Price <= 0:
		return protocol.RejectReasonInvalidPrice, false
	}
	if _, ok := m.orders[cmd.ChildID]; ok {
		return protocol.RejectReasonDuplicateOrder, false
	}
	return protocol.RejectReasonNone, true
}

func (m *Matcher) onCancel(cmd protocol.CancelChild) Execution {
	o, ok := m.orders[cmd.ChildID]
	if !ok {
		return Execution{}
	}

	qty := o.ref.Leaves()
	_ = m.book.Remove(o.ref)
	delete(m.orders, o.childID)

	return Execution{Cancel: &protocol.VenueCanceled{
		ReportHeader: m.orderHeader(o, cmd.CommandHeader),
		Qty:          qty,
		Reason:       protocol.CancelReasonRequested,
	}}
}

func (m *Matcher) onReplace(cmd protocol.ReplaceChild) Execution {
	o, ok := m.orders[cmd.ChildID]
	if !ok {
		return m.rejectChange(cmd.CommandHeader, protocol.RequestReplace, protocol.CancelRejectTooLate, cmd.VenueOrderID)
	}
	if cmd.Qty <= o.cum || cmd.Price <= 0 {
		return m.rejectChange(cmd.CommandHeader, protocol.RequestReplace, protocol.CancelRejectInvalidRequest, o.venueOrderID)
	}

	_ = m.book.Remove(o.ref)
	o.ref = nil
	delete(m.orders, o.childID)
	o.qty = cmd.Qty
	o.price = cmd.Price

	exec := Execution{Acks: []protocol.VenueAck{{
		ReportHeader: m.orderHeader(o, cmd.CommandHeader),
		Replaced:     true,
		Qty:          o.qty,
		Price:        o.price,
	}}}
	exec.Merge(m.cross(o, cmd.CommandHeader))
	return exec
}

func (m *Matcher) rejectChange(h protocol.CommandHeader, kind protocol.RequestKind, reason protocol.CancelRejectReason, venueOrderID string) Execution {
	return Execution{Reject: &protocol.VenueRejected{
		ReportHeader: m.header(h, "", venueOrderID),
		Request:      kind,
		CancelReject: reason,
	}}
}

// cross consumes contra liquidity for o, best level first and one fill per
// touched line, then rests or cancels whatever is left.
func (m *Matcher) cross(o *venueOrder, h protocol.CommandHeader) Execution {
	var exec Execution
	isMarket := o.typ == protocol.OrderTypeMarket

	if o.tif == protocol.TimeInForceFOK && m.book.AvailableImmediately(o.side, isMarket, o.price) < o.leaves() {
		exec.Cancel = m.unfilled(o, h)
		return exec
	}

	for o.leaves() > 0 {
		best := m.book.BestContra(o.side)
		if best == nil || !Crosses(o.side, isMarket, o.price, best.Price()) {
			break
		}

		maker := m.orders[best.ChildID()]
		qty := min(o.leaves(), best.Leaves())
		px := best.Price()
		execID := m.ids.Next()

		o.cum += qty
		maker.cum += qty
		exec.Fills = append(exec.Fills,
			protocol.VenueFill{
				ReportHeader: m.orderHeader(o, h),
				ExecID:       execID,
				Qty:          qty,
				Price:        px,
				Leaves:       o.leaves(),
			},
			protocol.VenueFill{
				ReportHeader: m.orderHeader(maker, h),
				ExecID:       execID,
				Qty:          qty,
				Price:        px,
				Leaves:       maker.leaves(),
				Maker:        true,
			},
		)

		if maker.leaves() == 0 {
			m.book.PopBestContra(o.side)
			delete(m.orders, maker.childID)
		} else {
			_ = m.book.Requantify(best, maker.leaves())
		}
	}

	if o.leaves() == 0 {
		return exec
	}

	if isMarket || !o.tif.Rests() {
		exec.Cancel = m.unfilled(o, h)
		return exec
	}

	ref, err := m.book.Insert(o.childID, o.side, o.price, o.leaves(), h.Timestamp)
	if err != nil {
		logger.Error("rest order failed", zap.String("child_id", o.childID), zap.Error(err))
		exec.Cancel = m.unfilled(o, h)
		return exec
	}
	o.ref = ref
	m.orders[o.childID] = o
	return exec
}

func (m *Matcher) unfilled(o *venueOrder, h protocol.CommandHeader) *protocol.VenueCanceled {
	return &protocol.VenueCanceled{
		ReportHeader: m.orderHeader(o, h),
		Qty:          o.leaves(),
		Reason:       protocol.CancelReasonUnfilled,
	}
}

func (m *Matcher) header(h protocol.CommandHeader, clOrdID, venueOrderID string) protocol.ReportHeader {
	return protocol.ReportHeader{
		Venue:        m.venue,
		Instrument:   m.instrument,
		ClOrdID:      clOrdID,
		VenueOrderID: venueOrderID,
		Timestamp:    h.Timestamp,
		Meta:         h.Meta,
	}
}

func (m *Matcher) orderHeader(o *venueOrder, h protocol.CommandHeader) protocol.ReportHeader {
	return m.header(h, o.clOrdID, o.venueOrderID)
}

// Stats returns book statistics.
func (m *Matcher) Stats() BookStats {
	return m.book.Stats()
}
