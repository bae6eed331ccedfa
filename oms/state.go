package oms

import (
	"github.com/shopspring/decimal"

	"github.com/0x5487/execution-engine/protocol"
)

// OrderState is the authoritative state of one parent order.
// Cum + Leaves == OrigQty holds after every transition and Cum never
// decreases.
type OrderState struct {
	ID         string
	ClOrdID    string
	Account    string
	Instrument string
	Side       protocol.Side
	Type       protocol.OrderType
	LimitPrice protocol.Price
	TIF        protocol.TimeInForce
	ExpireAt   int64
	Venue      string

	OrigQty protocol.Qty
	Cum     protocol.Qty
	Leaves  protocol.Qty
	AvgPx   protocol.Price
	// Notional is the sum of fill price micros times fill quantity.
	Notional decimal.Decimal

	Status protocol.OrdStatus
	// Pending is the PENDING_CANCEL or PENDING_REPLACE overlay, empty when
	// no cancel or replace is in flight.
	Pending        protocol.OrdStatus
	PendingQty     protocol.Qty
	PendingPrice   protocol.Price
	PendingClOrdID string
	CancelReason   protocol.CancelReason
	CancelClOrdID  string

	Acked        bool
	OpenChildren int
	LastEventTs  int64
}

// Bootstrap creates the empty state a NewOrder is applied to.
func Bootstrap(ev protocol.NewOrder) OrderState {
	return OrderState{ID: ev.ParentID, ClOrdID: ev.ClOrdID}
}

// Terminal reports whether the order accepts no further transitions.
func (s *OrderState) Terminal() bool {
	return s.Status.Terminal()
}

// EffectiveStatus is the status shown to clients: the overlay while a cancel
// or replace is in flight, the lifecycle status otherwise.
func (s *OrderState) EffectiveStatus() protocol.OrdStatus {
	if s.Pending != "" && !s.Terminal() {
		return s.Pending
	}
	return s.Status
}

func (s *OrderState) report(kind protocol.ExecKind, h protocol.Header) protocol.ExecutionReport {
	return protocol.ExecutionReport{
		ParentID:  s.ID,
		ClOrdID:   s.ClOrdID,
		Kind:      kind,
		Status:    s.EffectiveStatus(),
		CumQty:    s.Cum,
		LeavesQty: s.Leaves,
		AvgPx:     s.AvgPx,
		Timestamp: h.Timestamp,
		Meta:      h.Meta,
	}
}

func (s *OrderState) applyFill(qty protocol.Qty, px protocol.Price) {
	s.Cum += qty
	s.Leaves -= qty
	s.Notional = s.Notional.Add(decimal.NewFromInt(int64(px)).Mul(decimal.NewFromInt(int64(qty))))
	avg, _ := s.Notional.QuoRem(decimal.NewFromInt(int64(s.Cum)), 0)
	s.AvgPx = protocol.Price(avg.IntPart())
}

func (s *OrderState) clearPending() {
	s.Pending = ""
	s.PendingQty = 0
	s.PendingPrice = 0
	s.PendingClOrdID = ""
	s.CancelClOrdID = ""
}

// replacing reports whether a replace request is still waiting for its
// answer. It stays true when a cancel is queued behind the replace.
func (s *OrderState) replacing() bool {
	return s.PendingQty > 0
}

// endReplace drops the replace overlay. A cancel queued behind it keeps the
// PENDING_CANCEL overlay.
func (s *OrderState) endReplace() {
	if s.Pending == protocol.StatusPendingReplace {
		s.Pending = ""
	}
	s.PendingQty = 0
	s.PendingPrice = 0
	s.PendingClOrdID = ""
}

// Effects is the complete output of one FSM step. Nothing outside Effects
// is changed by Apply.
type Effects struct {
	State     OrderState
	Reports   []protocol.ExecutionReport
	Intents   []protocol.Intent
	FollowUps []protocol.OrderEvent
	Requests  []protocol.Request
}

func unchanged(s OrderState) Effects {
	return Effects{State: s}
}
