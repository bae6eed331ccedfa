package protocol

// Meta is the causal token carried by every event that crosses an engine
// boundary. The core copies it unchanged onto every derived effect and never
// looks inside it.
type Meta struct {
	Hop      uint32 `json:"hop"`
	Seq      uint64 `json:"seq"`
	OriginTs int64  `json:"origin_ts"`
}

// Header is shared by every event addressed to a parent order.
type Header struct {
	ParentID  string `json:"parent_id"`
	Timestamp int64  `json:"timestamp"` // Unix nano
	Meta      Meta   `json:"meta"`
}

// Head returns the header of the event.
func (h Header) Head() Header { return h }

// OrderEvent is the closed set of events applied to a parent order.
type OrderEvent interface {
	Head() Header
	isOrderEvent()
}

// NewOrder is a normalized, pre-validated client order.
type NewOrder struct {
	Header
	ClOrdID    string      `json:"cl_ord_id"`
	Account    string      `json:"account"`
	Instrument string      `json:"instrument"`
	Side       Side        `json:"side"`
	Qty        Qty         `json:"qty"`
	Type       OrderType   `json:"type"`
	LimitPrice Price       `json:"limit_price,omitempty"`
	TIF        TimeInForce `json:"tif"`
	ExpireAt   int64       `json:"expire_at,omitempty"` // GTD only, not enforced
	Venue      string      `json:"venue,omitempty"`     // empty selects the default venue
}

// CancelOrder asks to cancel the remaining quantity of a parent order.
type CancelOrder struct {
	Header
	ClOrdID string `json:"cl_ord_id"`
}

// ReplaceOrder asks to change the total quantity and/or limit price.
type ReplaceOrder struct {
	Header
	ClOrdID    string `json:"cl_ord_id"`
	Qty        Qty    `json:"qty"`
	LimitPrice Price  `json:"limit_price"`
}

// ExpireOrder is injected when the time in force of an order runs out.
type ExpireOrder struct {
	Header
}

// ChildAck reports that a venue accepted a child order.
type ChildAck struct {
	Header
	ChildID string `json:"child_id"`
}

// ChildFill reports an execution on a child order.
type ChildFill struct {
	Header
	ChildID     string `json:"child_id"`
	ExecID      string `json:"exec_id"`
	LastQty     Qty    `json:"last_qty"`
	LastPx      Price  `json:"last_px"`
	ChildLeaves Qty    `json:"child_leaves"`
}

// ChildCanceled reports that a child order left the venue without filling.
type ChildCanceled struct {
	Header
	ChildID string       `json:"child_id"`
	Qty     Qty          `json:"qty"`
	Reason  CancelReason `json:"reason"`
}

// ChildRejected reports that a child order was refused, or could not be routed.
type ChildRejected struct {
	Header
	ChildID string       `json:"child_id"`
	Reason  RejectReason `json:"reason"`
	Text    string       `json:"text,omitempty"`
}

// ChildReplaced reports that a venue applied a replace to a child order.
type ChildReplaced struct {
	Header
	ChildID string `json:"child_id"`
	Qty     Qty    `json:"qty"`
	Price   Price  `json:"price"`
}

// ChildCancelRejected reports that a cancel or replace of a child was refused.
type ChildCancelRejected struct {
	Header
	ChildID string             `json:"child_id"`
	Reason  CancelRejectReason `json:"reason"`
	Replace bool               `json:"replace"`
}

// Activate is an internal follow-up moving an acknowledged order to working.
type Activate struct {
	Header
}

func (NewOrder) isOrderEvent()            {}
func (CancelOrder) isOrderEvent()         {}
func (ReplaceOrder) isOrderEvent()        {}
func (ExpireOrder) isOrderEvent()         {}
func (ChildAck) isOrderEvent()            {}
func (ChildFill) isOrderEvent()           {}
func (ChildCanceled) isOrderEvent()       {}
func (ChildRejected) isOrderEvent()       {}
func (ChildReplaced) isOrderEvent()       {}
func (ChildCancelRejected) isOrderEvent() {}
func (Activate) isOrderEvent()            {}
