package oms

import (
	"fmt"

	"github.com/0x5487/execution-engine/protocol"
)

// Apply runs one event through the parent order state machine. It is pure:
// the next state and every outbound effect are returned in Effects.
//
// s must come from Bootstrap or a previous Apply. Calling Apply on a state
// without an id is a programming error and panics.
func Apply(s OrderState, ev protocol.OrderEvent) Effects {
	if s.ID == "" {
		panic(fmt.Sprintf("oms: apply %T to an order that was never bootstrapped", ev))
	}

	switch e := ev.(type) {
	case protocol.NewOrder:
		return onNewOrder(s, e)
	case protocol.CancelOrder:
		return onCancel(s, e.Header, e.ClOrdID, protocol.CancelReasonRequested)
	case protocol.ExpireOrder:
		return onExpire(s, e)
	case protocol.ReplaceOrder:
		return onReplace(s, e)
	}

	if s.Terminal() {
		return unchanged(s)
	}

	switch e := ev.(type) {
	case protocol.ChildAck:
		return onChildAck(s, e)
	case protocol.Activate:
		return onActivate(s, e)
	case protocol.ChildFill:
		return onChildFill(s, e)
	case protocol.ChildCanceled:
		return onChildCanceled(s, e)
	case protocol.ChildRejected:
		return onChildRejected(s, e)
	case protocol.ChildReplaced:
		return onChildReplaced(s, e)
	case protocol.ChildCancelRejected:
		return onChildCancelRejected(s, e)
	}
	return unchanged(s)
}

// Validate checks a new order before it is routed.
func Validate(ev protocol.NewOrder) (protocol.RejectReason, string) {
	switch {
	case ev.Instrument == "":
		return protocol.RejectReasonInvalidInstrument, "instrument is required"
	case ev.Side != protocol.SideBuy && ev.Side != protocol.SideSell:
		return protocol.RejectReasonMalformedEvent, fmt.Sprintf("unknown side %d", ev.Side)
	case ev.Qty <= 0:
		return protocol.RejectReasonInvalidQty, fmt.Sprintf("quantity %d must be positive", ev.Qty)
	case ev.Type != protocol.OrderTypeLimit && ev.Type != protocol.OrderTypeMarket:
		return protocol.RejectReasonUnsupportedType, fmt.Sprintf("order type %q", ev.Type)
	case !ev.TIF.Valid():
		return protocol.RejectReasonUnsupportedType, fmt.Sprintf("time in force %q", ev.TIF)
	case ev.Type == protocol.OrderTypeLimit && ev.LimitPrice <= 0:
		return protocol.RejectReasonInvalidPrice, fmt.Sprintf("limit price %s must be positive", ev.LimitPrice)
	}
	return protocol.RejectReasonNone, ""
}

func onNewOrder(s OrderState, ev protocol.NewOrder) Effects {
	if s.Status != "" {
		r := s.report(protocol.ExecRejected, ev.Header)
		r.Reason = string(protocol.RejectReasonDuplicateOrder)
		return Effects{State: s, Reports: []protocol.ExecutionReport{r}}
	}

	s.ClOrdID = ev.ClOrdID
	s.Account = ev.Account
	s.Instrument = ev.Instrument
	s.Side = ev.Side
	s.Type = ev.Type
	s.LimitPrice = ev.LimitPrice
	s.TIF = ev.TIF
	s.ExpireAt = ev.ExpireAt
	s.Venue = ev.Venue
	s.OrigQty = ev.Qty
	s.Leaves = ev.Qty
	s.LastEventTs = ev.Timestamp

	if reason, text := Validate(ev); reason != protocol.RejectReasonNone {
		s.Status = protocol.StatusRejected
		r := s.report(protocol.ExecRejected, ev.Header)
		r.Reason = fmt.Sprintf("%s: %s", reason, text)
		return Effects{State: s, Reports: []protocol.ExecutionReport{r}}
	}

	s.Status = protocol.StatusPendingNew
	s.OpenChildren = 1
	return Effects{
		State:   s,
		Reports: []protocol.ExecutionReport{s.report(protocol.ExecPendingNew, ev.Header)},
		Intents: []protocol.Intent{protocol.RouteNew{
			Header:     ev.Header,
			Instrument: s.Instrument,
			Side:       s.Side,
			Qty:        s.Leaves,
			Type:       s.Type,
			Price:      s.LimitPrice,
			TIF:        s.TIF,
			Venue:      s.Venue,
		}},
	}
}

func cancelReject(s OrderState, h protocol.Header, clOrdID string, reason protocol.CancelRejectReason) Effects {
	r := s.report(protocol.ExecCancelReject, h)
	if clOrdID != "" {
		r.ClOrdID = clOrdID
	}
	r.Reason = string(reason)
	return Effects{State: s, Reports: []protocol.ExecutionReport{r}}
}

func terminalCancelReject(s OrderState) protocol.CancelRejectReason {
	switch s.Status {
	case protocol.StatusFilled:
		return protocol.CancelRejectAlreadyFilled
	case protocol.StatusRejected:
		return protocol.CancelRejectUnknownOrder
	}
	return protocol.CancelRejectTooLate
}

func onCancel(s OrderState, h protocol.Header, clOrdID string, reason protocol.CancelReason) Effects {
	switch {
	case s.Terminal():
		return cancelReject(s, h, clOrdID, terminalCancelReject(s))
	case s.Pending == protocol.StatusPendingCancel:
		return cancelReject(s, h, clOrdID, protocol.CancelRejectInvalidRequest)
	}

	// A replace still in flight stays recorded; the venue answers it before
	// the cancel.
	s.Pending = protocol.StatusPendingCancel
	s.CancelReason = reason
	s.CancelClOrdID = clOrdID
	s.LastEventTs = h.Timestamp
	if s.OpenChildren == 0 {
		return closeUnfilled(s, h, reason)
	}
	return Effects{
		State:    s,
		Reports:  []protocol.ExecutionReport{s.report(protocol.ExecPendingCancel, h)},
		Requests: []protocol.Request{protocol.CancelChildren{Header: h, Reason: reason}},
	}
}

// onExpire cancels an order whose time in force ran out. Orders already
// terminal or being canceled are left alone.
func onExpire(s OrderState, ev protocol.ExpireOrder) Effects {
	if s.Terminal() || s.Pending == protocol.StatusPendingCancel {
		return unchanged(s)
	}
	return onCancel(s, ev.Header, "", protocol.CancelReasonExpired)
}

func onReplace(s OrderState, ev protocol.ReplaceOrder) Effects {
	switch {
	case s.Terminal():
		return cancelReject(s, ev.Header, ev.ClOrdID, terminalCancelReject(s))
	case s.Pending != "" || !s.Acked:
		return cancelReject(s, ev.Header, ev.ClOrdID, protocol.CancelRejectTooLate)
	case s.Type != protocol.OrderTypeLimit || ev.LimitPrice <= 0 || ev.Qty <= s.Cum:
		return cancelReject(s, ev.Header, ev.ClOrdID, protocol.CancelRejectInvalidRequest)
	}

	s.Pending = protocol.StatusPendingReplace
	s.PendingQty = ev.Qty
	s.PendingPrice = ev.LimitPrice
	s.PendingClOrdID = ev.ClOrdID
	s.LastEventTs = ev.Timestamp
	return Effects{
		State:   s,
		Reports: []protocol.ExecutionReport{s.report(protocol.ExecPendingReplace, ev.Header)},
		Requests: []protocol.Request{protocol.ReplaceChildren{
			Header: ev.Header,
			Qty:    ev.Qty,
			Price:  ev.LimitPrice,
		}},
	}
}

func onChildAck(s OrderState, ev protocol.ChildAck) Effects {
	if s.Acked {
		return unchanged(s)
	}
	s.Acked = true
	s.LastEventTs = ev.Timestamp
	if s.Status != protocol.StatusPendingNew {
		return unchanged(s)
	}

	s.Status = protocol.StatusNew
	return Effects{
		State:     s,
		Reports:   []protocol.ExecutionReport{s.report(protocol.ExecNew, ev.Header)},
		FollowUps: []protocol.OrderEvent{protocol.Activate{Header: ev.Header}},
	}
}

func onActivate(s OrderState, ev protocol.Activate) Effects {
	if s.Status == protocol.StatusNew {
		s.Status = protocol.StatusWorking
		s.LastEventTs = ev.Timestamp
	}
	return unchanged(s)
}

func onChildFill(s OrderState, ev protocol.ChildFill) Effects {
	if ev.LastQty <= 0 || ev.LastQty > s.Leaves || ev.LastPx <= 0 || ev.ChildLeaves < 0 {
		r := s.report(protocol.ExecRejected, ev.Header)
		r.LastQty = ev.LastQty
		r.LastPx = ev.LastPx
		r.Reason = fmt.Sprintf("%s: fill %d @ %s against leaves %d", protocol.RejectReasonMalformedEvent, ev.LastQty, ev.LastPx, s.Leaves)
		return Effects{State: s, Reports: []protocol.ExecutionReport{r}}
	}

	s.applyFill(ev.LastQty, ev.LastPx)
	s.LastEventTs = ev.Timestamp
	if ev.ChildLeaves == 0 && s.OpenChildren > 0 {
		s.OpenChildren--
	}

	if s.Leaves == 0 {
		s.Status = protocol.StatusFilled
		s.clearPending()
		fx := Effects{State: s}
		fx.Reports = []protocol.ExecutionReport{s.fillReport(protocol.ExecFill, ev)}
		if s.OpenChildren > 0 {
			fx.Requests = []protocol.Request{protocol.CancelChildren{Header: ev.Header, Reason: protocol.CancelReasonUnfilled}}
		}
		return fx
	}

	s.Status = protocol.StatusPartiallyFilled
	report := s.fillReport(protocol.ExecPartialFill, ev)
	if s.OpenChildren == 0 {
		fx := closeUnfilled(s, ev.Header, protocol.CancelReasonUnfilled)
		fx.Reports = append([]protocol.ExecutionReport{report}, fx.Reports...)
		return fx
	}
	return Effects{State: s, Reports: []protocol.ExecutionReport{report}}
}

func (s *OrderState) fillReport(kind protocol.ExecKind, ev protocol.ChildFill) protocol.ExecutionReport {
	r := s.report(kind, ev.Header)
	r.LastQty = ev.LastQty
	r.LastPx = ev.LastPx
	return r
}

func onChildCanceled(s OrderState, ev protocol.ChildCanceled) Effects {
	return childClosed(s, ev.Header, ev.Reason, protocol.RejectReasonNone, "")
}

func onChildRejected(s OrderState, ev protocol.ChildRejected) Effects {
	return childClosed(s, ev.Header, protocol.CancelReasonUnfilled, ev.Reason, ev.Text)
}

// childClosed accounts for a child that left its venue without filling.
// When it was the last one the parent's remaining quantity is closed.
func childClosed(s OrderState, h protocol.Header, reason protocol.CancelReason, reject protocol.RejectReason, text string) Effects {
	if s.OpenChildren > 0 {
		s.OpenChildren--
	}
	s.LastEventTs = h.Timestamp
	if s.OpenChildren > 0 {
		return unchanged(s)
	}

	if reject != protocol.RejectReasonNone && !s.Acked && s.Cum == 0 && s.Pending == "" {
		s.Status = protocol.StatusRejected
		r := s.report(protocol.ExecRejected, h)
		r.Reason = string(reject)
		if text != "" {
			r.Reason += ": " + text
		}
		return Effects{State: s, Reports: []protocol.ExecutionReport{r}}
	}
	if s.CancelReason != "" {
		reason = s.CancelReason
	}
	return closeUnfilled(s, h, reason)
}

func closeUnfilled(s OrderState, h protocol.Header, reason protocol.CancelReason) Effects {
	s.Status = protocol.StatusCanceled
	s.clearPending()
	r := s.report(protocol.ExecCanceled, h)
	r.Reason = string(reason)
	return Effects{State: s, Reports: []protocol.ExecutionReport{r}}
}

// onChildReplaced takes the new size from the venue. Fills may land between
// the request and this answer, so the size must still exceed Cum.
func onChildReplaced(s OrderState, ev protocol.ChildReplaced) Effects {
	if !s.replacing() {
		return unchanged(s)
	}

	s.LastEventTs = ev.Timestamp
	clOrdID := s.PendingClOrdID
	if ev.Qty <= s.Cum {
		s.endReplace()
		return cancelReject(s, ev.Header, clOrdID, protocol.CancelRejectInvalidRequest)
	}

	s.OrigQty = ev.Qty
	s.LimitPrice = ev.Price
	s.ClOrdID = clOrdID
	s.Leaves = s.OrigQty - s.Cum
	s.endReplace()
	return Effects{State: s, Reports: []protocol.ExecutionReport{s.report(protocol.ExecReplaced, ev.Header)}}
}

func onChildCancelRejected(s OrderState, ev protocol.ChildCancelRejected) Effects {
	if ev.Replace {
		if !s.replacing() {
			return unchanged(s)
		}
		clOrdID := s.PendingClOrdID
		s.endReplace()
		s.LastEventTs = ev.Timestamp
		return cancelReject(s, ev.Header, clOrdID, ev.Reason)
	}

	if s.Pending != protocol.StatusPendingCancel {
		return unchanged(s)
	}
	clOrdID := s.CancelClOrdID
	s.Pending = ""
	if s.replacing() {
		s.Pending = protocol.StatusPendingReplace
	}
	s.CancelReason = ""
	s.CancelClOrdID = ""
	s.LastEventTs = ev.Timestamp
	return cancelReject(s, ev.Header, clOrdID, ev.Reason)
}
