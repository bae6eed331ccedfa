package router

import (
	"github.com/0x5487/execution-engine/protocol"
)

// ChildState is the router's view of one child order. Cum + Leaves == Qty
// holds after every mutation.
type ChildState struct {
	ID           string
	ParentID     string
	ClOrdID      string
	Venue        string
	VenueOrderID string
	Instrument   string
	Side         protocol.Side
	Type         protocol.OrderType
	Price        protocol.Price
	TIF          protocol.TimeInForce
	Qty          protocol.Qty
	Cum          protocol.Qty
	Leaves       protocol.Qty
	Status       protocol.OrdStatus
	Acked        bool

	// PendingCancel is set once a cancel was sent to the venue.
	PendingCancel bool
	// CancelQueued holds a cancel until the venue ack allows sending it.
	CancelQueued bool
	// Replace is the change sent to the venue and not yet answered.
	Replace *PendingReplace
}

// PendingReplace is an unanswered replace of a child.
type PendingReplace struct {
	Qty   protocol.Qty
	Price protocol.Price
}

// Terminal reports whether the child can change no further.
func (c *ChildState) Terminal() bool {
	return c.Status.Terminal()
}

// Active reports whether the child still works at its venue.
func (c *ChildState) Active() bool {
	return !c.Terminal()
}

func (c *ChildState) header(ts int64, meta protocol.Meta) protocol.Header {
	return protocol.Header{ParentID: c.ParentID, Timestamp: ts, Meta: meta}
}

func (c *ChildState) commandHeader(commandID string, ts int64, meta protocol.Meta) protocol.CommandHeader {
	return protocol.CommandHeader{
		CommandID:  commandID,
		Venue:      c.Venue,
		Instrument: c.Instrument,
		ChildID:    c.ID,
		Timestamp:  ts,
		Meta:       meta,
	}
}

// Effects is what one router step asks of the outside world: commands for
// venues and events for parent orders.
type Effects struct {
	Commands []protocol.VenueCommand
	Events   []protocol.OrderEvent
}

// Merge appends other to e.
func (e *Effects) Merge(other Effects) {
	e.Commands = append(e.Commands, other.Commands...)
	e.Events = append(e.Events, other.Events...)
}

// Empty reports whether there is nothing to do.
func (e *Effects) Empty() bool {
	return len(e.Commands) == 0 && len(e.Events) == 0
}
