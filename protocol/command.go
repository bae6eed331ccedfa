package protocol

// RouterInput is the closed set of messages consumed by the routing loop:
// intents and side-effect requests from the OMS, and reports from venues.
type RouterInput interface {
	isRouterInput()
}

// Intent is an outbound instruction from a parent order to the router.
type Intent interface {
	RouterInput
	Head() Header
	isIntent()
}

// Request is a side-effect request from a parent order to the router.
type Request interface {
	RouterInput
	Head() Header
	isRequest()
}

// RouteNew asks the router to create one child order.
type RouteNew struct {
	Header
	Instrument string      `json:"instrument"`
	Side       Side        `json:"side"`
	Qty        Qty         `json:"qty"`
	Type       OrderType   `json:"type"`
	Price      Price       `json:"price,omitempty"`
	TIF        TimeInForce `json:"tif"`
	Venue      string      `json:"venue,omitempty"`
}

// CancelChildren asks the router to cancel every active child of a parent.
type CancelChildren struct {
	Header
	Reason CancelReason `json:"reason"`
}

// ReplaceChildren asks the router to resize/reprice the working child of a parent.
// Qty is the new total quantity, fills included. A Qty at or below what has
// already filled is refused.
type ReplaceChildren struct {
	Header
	Qty   Qty   `json:"qty"`
	Price Price `json:"price"`
}

func (RouteNew) isRouterInput()        {}
func (RouteNew) isIntent()             {}
func (CancelChildren) isRouterInput()  {}
func (CancelChildren) isRequest()      {}
func (ReplaceChildren) isRouterInput() {}
func (ReplaceChildren) isRequest()     {}

// CommandHeader is shared by every command sent to a venue.
type CommandHeader struct {
	// CommandID makes a command idempotent at the venue.
	CommandID  string `json:"command_id"`
	Venue      string `json:"venue"`
	Instrument string `json:"instrument"`
	ChildID    string `json:"child_id"`
	Timestamp  int64  `json:"timestamp"`
	Meta       Meta   `json:"meta"`
}

// Cmd returns the header of the command.
func (h CommandHeader) Cmd() CommandHeader { return h }

// VenueCommand is the closed set of commands a venue understands.
type VenueCommand interface {
	Cmd() CommandHeader
	isVenueCommand()
}

// NewChild places a child order at a venue.
type NewChild struct {
	CommandHeader
	ClOrdID string      `json:"cl_ord_id"`
	Side    Side        `json:"side"`
	Qty     Qty         `json:"qty"`
	Type    OrderType   `json:"type"`
	Price   Price       `json:"price,omitempty"`
	TIF     TimeInForce `json:"tif"`
}

// CancelChild cancels a resting child order.
type CancelChild struct {
	CommandHeader
	ClOrdID      string `json:"cl_ord_id"`
	VenueOrderID string `json:"venue_order_id,omitempty"`
}

// ReplaceChild changes the total quantity and price of a child order.
type ReplaceChild struct {
	CommandHeader
	VenueOrderID string `json:"venue_order_id"`
	Qty          Qty    `json:"qty"`
	Price        Price  `json:"price"`
}

func (NewChild) isVenueCommand()     {}
func (CancelChild) isVenueCommand()  {}
func (ReplaceChild) isVenueCommand() {}

// ReportHeader identifies the child order a venue report is about.
// Venues echo ClOrdID on acks and rejects; later reports may carry only the
// venue-assigned VenueOrderID.
type ReportHeader struct {
	Venue        string `json:"venue"`
	Instrument   string `json:"instrument"`
	ChildID      string `json:"child_id,omitempty"`
	ClOrdID      string `json:"cl_ord_id,omitempty"`
	VenueOrderID string `json:"venue_order_id,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Meta         Meta   `json:"meta"`
}

// Report returns the header of the venue report.
func (h ReportHeader) Report() ReportHeader { return h }

// VenueReport is the closed set of reports a venue produces.
type VenueReport interface {
	RouterInput
	Report() ReportHeader
	isVenueReport()
}

// VenueAck acknowledges a new or replaced child order.
type VenueAck struct {
	ReportHeader
	Replaced bool  `json:"replaced"`
	Qty      Qty   `json:"qty"`
	Price    Price `json:"price"`
}

// VenueFill reports one execution against one book line.
type VenueFill struct {
	ReportHeader
	ExecID string `json:"exec_id"`
	Qty    Qty    `json:"qty"`
	Price  Price  `json:"price"`
	Leaves Qty    `json:"leaves"`
	Maker  bool   `json:"maker"`
}

// VenueCanceled reports quantity removed from the venue.
type VenueCanceled struct {
	ReportHeader
	Qty    Qty          `json:"qty"`
	Reason CancelReason `json:"reason"`
}

// RequestKind tells which command a VenueRejected refers to.
type RequestKind uint8

const (
	RequestNew RequestKind = iota + 1
	RequestCancel
	RequestReplace
)

// VenueRejected refuses a command. Reason is set for new orders,
// CancelReject for cancels and replaces.
type VenueRejected struct {
	ReportHeader
	Request      RequestKind        `json:"request"`
	Reason       RejectReason       `json:"reason,omitempty"`
	CancelReject CancelRejectReason `json:"cancel_reject,omitempty"`
	Text         string             `json:"text,omitempty"`
}

func (VenueAck) isRouterInput()      {}
func (VenueAck) isVenueReport()      {}
func (VenueFill) isRouterInput()     {}
func (VenueFill) isVenueReport()     {}
func (VenueCanceled) isRouterInput() {}
func (VenueCanceled) isVenueReport() {}
func (VenueRejected) isRouterInput() {}
func (VenueRejected) isVenueReport() {}
