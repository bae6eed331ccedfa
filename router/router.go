package router

import (
	"fmt"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/0x5487/execution-engine/dedup"
	"github.com/0x5487/execution-engine/protocol"
)

// Policy holds the per-venue rules for cancels.
type Policy struct {
	// AllowCancelBeforeAck lets a cancel go out before the venue acknowledged
	// the order. Otherwise the cancel waits for the ack.
	AllowCancelBeforeAck bool
	// CancelRequiresVenueOrderID holds a cancel until the venue order id is known.
	CancelRequiresVenueOrderID bool
}

// Router turns parent intents into child orders and venue commands, and
// venue reports back into parent events. It is driven by one goroutine;
// the ChildStore it owns may be read from others.
type Router struct {
	store        *ChildStore
	policies     map[string]Policy
	defaultVenue string
	fills        *dedup.Window
	newID        func() string
}

// Option configures a Router.
type Option func(*Router)

// WithVenue registers a venue and its policy.
func WithVenue(name string, p Policy) Option {
	return func(r *Router) {
		r.policies[name] = p
	}
}

// WithDefaultVenue selects the venue used when an intent names none.
func WithDefaultVenue(name string) Option {
	return func(r *Router) {
		r.defaultVenue = name
	}
}

// WithDedupWindow sets how many fills are remembered to drop redeliveries.
func WithDedupWindow(n int) Option {
	return func(r *Router) {
		r.fills = dedup.New(n)
	}
}

// WithIDGenerator replaces the child id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Router) {
		r.newID = fn
	}
}

// New creates a router over store.
func New(store *ChildStore, opts ...Option) *Router {
	r := &Router{
		store:    store,
		policies: make(map[string]Policy),
		newID:    func() string { return xid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fills == nil {
		r.fills = dedup.New(1 << 16)
	}
	return r
}

// Store returns the child store.
func (r *Router) Store() *ChildStore {
	return r.store
}

// Handle dispatches one router input.
func (r *Router) Handle(in protocol.RouterInput) Effects {
	switch v := in.(type) {
	case protocol.RouteNew:
		return r.RouteNew(v)
	case protocol.CancelChildren:
		return r.CancelChildren(v)
	case protocol.ReplaceChildren:
		return r.ReplaceChildren(v)
	case protocol.VenueReport:
		return r.OnVenueReport(v)
	}
	logger.Error("unexpected router input", zap.String("type", fmt.Sprintf("%T", in)))
	return Effects{}
}

// RouteNew creates one child order and the command placing it.
func (r *Router) RouteNew(in protocol.RouteNew) Effects {
	venue := in.Venue
	if venue == "" {
		venue = r.defaultVenue
	}
	if _, ok := r.policies[venue]; !ok {
		return Effects{Events: []protocol.OrderEvent{protocol.ChildRejected{
			Header: in.Header,
			Reason: protocol.RejectReasonUnknownVenue,
			Text:   fmt.Sprintf("no route to venue %q", venue),
		}}}
	}

	cs := ChildState{
		ID:         r.newID(),
		ParentID:   in.ParentID,
		ClOrdID:    r.newID(),
		Venue:      venue,
		Instrument: in.Instrument,
		Side:       in.Side,
		Type:       in.Type,
		Price:      in.Price,
		TIF:        in.TIF,
		Qty:        in.Qty,
		Leaves:     in.Qty,
		Status:     protocol.StatusPendingNew,
	}
	if err := r.store.Insert(cs); err != nil {
		logger.Error("register child failed", zap.String("parent_id", in.ParentID), zap.Error(err))
		return Effects{Events: []protocol.OrderEvent{protocol.ChildRejected{
			Header: in.Header,
			Reason: protocol.RejectReasonDuplicateOrder,
			Text:   err.Error(),
		}}}
	}

	return Effects{Commands: []protocol.VenueCommand{protocol.NewChild{
		CommandHeader: cs.commandHeader(cs.ClOrdID, in.Timestamp, in.Meta),
		ClOrdID:       cs.ClOrdID,
		Side:          cs.Side,
		Qty:           cs.Qty,
		Type:          cs.Type,
		Price:         cs.Price,
		TIF:           cs.TIF,
	}}}
}

type cancelIntent struct {
	parentID string
	ts       int64
	meta     protocol.Meta
}

// Cancel cancels one child of parentID. The cancel is sent right away, or
// queued on the child when the venue policy does not allow it yet.
func (r *Router) Cancel(parentID, childID string, ts int64, meta protocol.Meta) (Effects, error) {
	if cs, ok := r.store.Get(childID); !ok || cs.ParentID != parentID {
		return Effects{}, fmt.Errorf("cancel child %s: %w", childID, ErrUnknownChild)
	}
	fx, err := Apply(r.store, childID, cancelIntent{parentID: parentID, ts: ts, meta: meta}, r.reduceCancel)
	if err != nil {
		return Effects{}, fmt.Errorf("cancel child %s: %w", childID, err)
	}
	return fx, nil
}

func (r *Router) reduceCancel(cs ChildState, in cancelIntent) (ChildState, Effects) {
	if cs.ParentID != in.parentID || cs.Terminal() || cs.PendingCancel || cs.CancelQueued {
		return cs, Effects{}
	}

	p := r.policies[cs.Venue]
	if (!cs.Acked && !p.AllowCancelBeforeAck) || (cs.VenueOrderID == "" && p.CancelRequiresVenueOrderID) {
		cs.CancelQueued = true
		return cs, Effects{}
	}

	cs.PendingCancel = true
	return cs, Effects{Commands: []protocol.VenueCommand{r.cancelCommand(&cs, in.ts, in.meta)}}
}

func (r *Router) cancelCommand(cs *ChildState, ts int64, meta protocol.Meta) protocol.CancelChild {
	return protocol.CancelChild{
		CommandHeader: cs.commandHeader(r.newID(), ts, meta),
		ClOrdID:       cs.ClOrdID,
		VenueOrderID:  cs.VenueOrderID,
	}
}

// CancelChildren cancels every live child of a parent.
func (r *Router) CancelChildren(req protocol.CancelChildren) Effects {
	var fx Effects
	for _, id := range r.store.Children(req.ParentID) {
		one, err := r.Cancel(req.ParentID, id, req.Timestamp, req.Meta)
		if err != nil {
			logger.Debug("child gone before cancel", zap.String("child_id", id), zap.Error(err))
			continue
		}
		fx.Merge(one)
	}
	return fx
}

// ReplaceChildren moves the only working child of a parent to a new price and
// a new total size. The venue refuses a size its fills have already reached.
func (r *Router) ReplaceChildren(req protocol.ReplaceChildren) Effects {
	ids := r.store.Children(req.ParentID)
	if len(ids) != 1 {
		return Effects{Events: []protocol.OrderEvent{protocol.ChildCancelRejected{
			Header:  req.Header,
			Reason:  protocol.CancelRejectInvalidRequest,
			Replace: true,
		}}}
	}

	fx, err := Apply(r.store, ids[0], req, r.reduceReplace)
	if err != nil {
		logger.Debug("child gone before replace", zap.String("child_id", ids[0]), zap.Error(err))
		return Effects{Events: []protocol.OrderEvent{protocol.ChildCancelRejected{
			Header:  req.Header,
			Reason:  protocol.CancelRejectTooLate,
			Replace: true,
		}}}
	}
	return fx
}

func (r *Router) reduceReplace(cs ChildState, req protocol.ReplaceChildren) (ChildState, Effects) {
	reject := func(reason protocol.CancelRejectReason) (ChildState, Effects) {
		return cs, Effects{Events: []protocol.OrderEvent{protocol.ChildCancelRejected{
			Header:  cs.header(req.Timestamp, req.Meta),
			ChildID: cs.ID,
			Reason:  reason,
			Replace: true,
		}}}
	}

	switch {
	case cs.Terminal() || cs.PendingCancel || cs.CancelQueued:
		return reject(protocol.CancelRejectTooLate)
	case !cs.Acked || cs.VenueOrderID == "" || cs.Replace != nil:
		return reject(protocol.CancelRejectInvalidRequest)
	case req.Qty <= cs.Cum || req.Price <= 0 || cs.Type != protocol.OrderTypeLimit:
		return reject(protocol.CancelRejectInvalidRequest)
	}

	cs.Replace = &PendingReplace{Qty: req.Qty, Price: req.Price}
	return cs, Effects{Commands: []protocol.VenueCommand{protocol.ReplaceChild{
		CommandHeader: cs.commandHeader(r.newID(), req.Timestamp, req.Meta),
		VenueOrderID:  cs.VenueOrderID,
		Qty:           cs.Replace.Qty,
		Price:         cs.Replace.Price,
	}}}
}

// OnVenueReport applies a venue report to its child. Reports that resolve to
// no live child are dropped.
func (r *Router) OnVenueReport(rep protocol.VenueReport) Effects {
	h := rep.Report()
	childID, ok := r.resolve(h)
	if !ok {
		logger.Warn("unresolved venue report",
			zap.String("venue", h.Venue),
			zap.String("venue_order_id", h.VenueOrderID),
			zap.String("cl_ord_id", h.ClOrdID),
			zap.String("type", fmt.Sprintf("%T", rep)),
		)
		return Effects{}
	}

	var (
		fx  Effects
		err error
	)
	switch v := rep.(type) {
	case protocol.VenueAck:
		fx, err = Apply(r.store, childID, v, r.reduceAck)
	case protocol.VenueFill:
		if r.fills.Seen(dedup.Key{ChildID: childID, ExecID: v.ExecID}) {
			logger.Debug("duplicate fill dropped", zap.String("child_id", childID), zap.String("exec_id", v.ExecID))
			return Effects{}
		}
		fx, err = Apply(r.store, childID, v, reduceFill)
	case protocol.VenueCanceled:
		fx, err = Apply(r.store, childID, v, reduceCanceled)
	case protocol.VenueRejected:
		fx, err = Apply(r.store, childID, v, reduceRejected)
	}
	if err != nil {
		logger.Warn("venue report not applied", zap.String("child_id", childID), zap.Error(err))
		return Effects{}
	}
	return fx
}

func (r *Router) resolve(h protocol.ReportHeader) (string, bool) {
	if h.ChildID != "" {
		return h.ChildID, true
	}
	if h.VenueOrderID != "" {
		if id, ok := r.store.ByVenueOrderID(h.Venue, h.VenueOrderID); ok {
			return id, true
		}
	}
	if h.ClOrdID != "" {
		return r.store.ByClOrdID(h.Venue, h.ClOrdID)
	}
	return "", false
}

func (r *Router) reduceAck(cs ChildState, ack protocol.VenueAck) (ChildState, Effects) {
	if cs.Terminal() {
		return cs, Effects{}
	}

	if ack.Replaced {
		if cs.Replace == nil {
			return cs, Effects{}
		}
		cs.Qty = ack.Qty
		cs.Price = ack.Price
		cs.Leaves = cs.Qty - cs.Cum
		cs.Replace = nil
		return cs, Effects{Events: []protocol.OrderEvent{protocol.ChildReplaced{
			Header:  cs.header(ack.Timestamp, ack.Meta),
			ChildID: cs.ID,
			Qty:     cs.Qty,
			Price:   cs.Price,
		}}}
	}

	if cs.Acked {
		return cs, Effects{}
	}
	cs.Acked = true
	cs.VenueOrderID = ack.VenueOrderID
	if cs.Status == protocol.StatusPendingNew {
		cs.Status = protocol.StatusNew
	}

	fx := Effects{Events: []protocol.OrderEvent{protocol.ChildAck{
		Header:  cs.header(ack.Timestamp, ack.Meta),
		ChildID: cs.ID,
	}}}
	if cs.CancelQueued {
		cs.CancelQueued = false
		cs.PendingCancel = true
		fx.Commands = append(fx.Commands, r.cancelCommand(&cs, ack.Timestamp, ack.Meta))
	}
	return cs, fx
}

// reduceFill applies a fill. A fill that does not fit the child's leaves is
// passed on unapplied so the parent can reject it.
func reduceFill(cs ChildState, f protocol.VenueFill) (ChildState, Effects) {
	if cs.Terminal() {
		return cs, Effects{}
	}

	if f.Qty > 0 && f.Qty <= cs.Leaves {
		cs.Cum += f.Qty
		cs.Leaves -= f.Qty
		if cs.Leaves == 0 {
			cs.Status = protocol.StatusFilled
		} else {
			cs.Status = protocol.StatusPartiallyFilled
		}
	} else {
		logger.Warn("fill exceeds child leaves",
			zap.String("child_id", cs.ID),
			zap.Int64("qty", int64(f.Qty)),
			zap.Int64("leaves", int64(cs.Leaves)),
		)
	}

	return cs, Effects{Events: []protocol.OrderEvent{protocol.ChildFill{
		Header:      cs.header(f.Timestamp, f.Meta),
		ChildID:     cs.ID,
		ExecID:      f.ExecID,
		LastQty:     f.Qty,
		LastPx:      f.Price,
		ChildLeaves: cs.Leaves,
	}}}
}

// reduceCanceled ends the child. Leaves keeps the unfilled quantity so
// Cum + Leaves == Qty still holds for the retired state.
func reduceCanceled(cs ChildState, c protocol.VenueCanceled) (ChildState, Effects) {
	if cs.Terminal() {
		return cs, Effects{}
	}

	cs.Status = protocol.StatusCanceled
	cs.PendingCancel = false
	cs.CancelQueued = false
	cs.Replace = nil
	return cs, Effects{Events: []protocol.OrderEvent{protocol.ChildCanceled{
		Header:  cs.header(c.Timestamp, c.Meta),
		ChildID: cs.ID,
		Qty:     c.Qty,
		Reason:  c.Reason,
	}}}
}

func reduceRejected(cs ChildState, rej protocol.VenueRejected) (ChildState, Effects) {
	if cs.Terminal() {
		return cs, Effects{}
	}

	hdr := cs.header(rej.Timestamp, rej.Meta)
	switch rej.Request {
	case protocol.RequestCancel:
		if !cs.PendingCancel {
			return cs, Effects{}
		}
		cs.PendingCancel = false
		return cs, Effects{Events: []protocol.OrderEvent{protocol.ChildCancelRejected{
			Header: hdr, ChildID: cs.ID, Reason: rej.CancelReject,
		}}}
	case protocol.RequestReplace:
		if cs.Replace == nil {
			return cs, Effects{}
		}
		cs.Replace = nil
		return cs, Effects{Events: []protocol.OrderEvent{protocol.ChildCancelRejected{
			Header: hdr, ChildID: cs.ID, Reason: rej.CancelReject, Replace: true,
		}}}
	}

	if cs.Acked {
		return cs, Effects{}
	}
	cs.Status = protocol.StatusRejected
	return cs, Effects{Events: []protocol.OrderEvent{protocol.ChildRejected{
		Header:  hdr,
		ChildID: cs.ID,
		Reason:  rej.Reason,
		Text:    rej.Text,
	}}}
}
