package protocol

// ExecutionReport is the client-facing outcome of an event on a parent order.
// Encoding it for the wire is left to the publisher.
type ExecutionReport struct {
	ParentID  string    `json:"parent_id"`
	ClOrdID   string    `json:"cl_ord_id"`
	Kind      ExecKind  `json:"kind"`
	Status    OrdStatus `json:"status"`
	LastQty   Qty       `json:"last_qty"`
	CumQty    Qty       `json:"cum_qty"`
	LeavesQty Qty       `json:"leaves_qty"`
	LastPx    Price     `json:"last_px"`
	AvgPx     Price     `json:"avg_px"`
	Timestamp int64     `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	Meta      Meta      `json:"meta"`
}
