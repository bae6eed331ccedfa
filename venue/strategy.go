package venue

import (
	"github.com/shopspring/decimal"

	"github.com/0x5487/execution-engine/protocol"
)

// Strategy is one policy in a venue's handling of a command. Returning an
// empty Execution passes the command to the next strategy.
type Strategy interface {
	Name() string
	Apply(m *Matcher, cmd protocol.VenueCommand) Execution
}

// Run evaluates strategies in order, merging their results. It stops after the
// first strategy that rejects, cancels or fills.
func Run(strategies []Strategy, m *Matcher, cmd protocol.VenueCommand) Execution {
	var acc Execution
	for _, s := range strategies {
		r := s.Apply(m, cmd)
		acc.Merge(r)
		if r.Decisive() {
			break
		}
	}
	return acc
}

// FatFinger rejects limit prices too far from the NBBO. Buys are measured
// against the ask and sells against the bid; Up bounds prices above the
// reference and Down prices below it, both in percent.
type FatFinger struct {
	Up   decimal.Decimal
	Down decimal.Decimal
	// FailClosed rejects when the reference side of the NBBO is absent.
	// By default such orders pass.
	FailClosed bool
}

func (FatFinger) Name() string { return "fat_finger" }

func (f FatFinger) Apply(m *Matcher, cmd protocol.VenueCommand) Execution {
	var (
		side  protocol.Side
		price protocol.Price
		kind  protocol.RequestKind
	)
	switch c := cmd.(type) {
	case protocol.NewChild:
		if c.Type != protocol.OrderTypeLimit {
			return Execution{}
		}
		side, price, kind = c.Side, c.Price, protocol.RequestNew
	case protocol.ReplaceChild:
		o, ok := m.orders[c.ChildID]
		if !ok {
			return Execution{}
		}
		side, price, kind = o.side, c.Price, protocol.RequestReplace
	default:
		return Execution{}
	}

	ref, ok := m.NBBO().Contra(side)
	if !ok {
		if f.FailClosed {
			return f.reject(m, cmd, kind, "no reference price")
		}
		return Execution{}
	}
	if WithinBand(price, ref, f.Up, f.Down) {
		return Execution{}
	}
	return f.reject(m, cmd, kind, "price "+price.String()+" outside band around "+ref.String())
}

func (f FatFinger) reject(m *Matcher, cmd protocol.VenueCommand, kind protocol.RequestKind, text string) Execution {
	rej := &protocol.VenueRejected{Request: kind, Text: text}
	switch c := cmd.(type) {
	case protocol.NewChild:
		rej.ReportHeader = m.header(c.CommandHeader, c.ClOrdID, "")
		rej.Reason = protocol.RejectReasonRiskCheck
	case protocol.ReplaceChild:
		rej.ReportHeader = m.header(c.CommandHeader, "", c.VenueOrderID)
		rej.CancelReject = protocol.CancelRejectVenueRejected
	}
	return Execution{Reject: rej}
}

// ImmediateFill fills a new order in full at the NBBO when it crosses it,
// without touching the book.
type ImmediateFill struct{}

func (ImmediateFill) Name() string { return "immediate_fill" }

func (ImmediateFill) Apply(m *Matcher, cmd protocol.VenueCommand) Execution {
	c, ok := cmd.(protocol.NewChild)
	if !ok {
		return Execution{}
	}
	if _, ok := m.validateNew(c); !ok {
		return Execution{}
	}

	px, ok := ImmediatePrice(c.Side, c.Type == protocol.OrderTypeMarket, c.Price, m.NBBO())
	if !ok {
		return Execution{}
	}

	o := &venueOrder{
		childID:      c.ChildID,
		clOrdID:      c.ClOrdID,
		venueOrderID: m.ids.Next(),
		side:         c.Side,
		typ:          c.Type,
		tif:          c.TIF,
		price:        c.Price,
		qty:          c.Qty,
		cum:          c.Qty,
	}
	h := m.orderHeader(o, c.CommandHeader)
	return Execution{
		Acks: []protocol.VenueAck{{ReportHeader: h, Qty: o.qty, Price: o.price}},
		Fills: []protocol.VenueFill{{
			ReportHeader: h,
			ExecID:       m.ids.Next(),
			Qty:          o.qty,
			Price:        px,
		}},
	}
}

// Matching hands the command to the book.
type Matching struct{}

func (Matching) Name() string { return "matching" }

func (Matching) Apply(m *Matcher, cmd protocol.VenueCommand) Execution {
	switch c := cmd.(type) {
	case protocol.NewChild:
		return m.onNew(c)
	case protocol.CancelChild:
		return m.onCancel(c)
	case protocol.ReplaceChild:
		return m.onReplace(c)
	}
	return Execution{}
}
