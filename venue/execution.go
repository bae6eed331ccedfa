package venue

import (
	"github.com/0x5487/execution-engine/protocol"
)

// Execution accumulates the outcome of one venue command across strategies:
// any number of acks and fills, at most one cancel and at most one reject.
type Execution struct {
	Acks   []protocol.VenueAck
	Fills  []protocol.VenueFill
	Cancel *protocol.VenueCanceled
	Reject *protocol.VenueRejected
}

// Merge appends other into e. A cancel or reject already present wins.
func (e *Execution) Merge(other Execution) {
	e.Acks = append(e.Acks, other.Acks...)
	e.Fills = append(e.Fills, other.Fills...)
	if e.Cancel == nil {
		e.Cancel = other.Cancel
	}
	if e.Reject == nil {
		e.Reject = other.Reject
	}
}

// IsNoop reports whether nothing was produced.
func (e *Execution) IsNoop() bool {
	return len(e.Acks) == 0 && len(e.Fills) == 0 && e.Cancel == nil && e.Reject == nil
}

// Decisive reports whether the outcome ends strategy evaluation.
func (e *Execution) Decisive() bool {
	return e.Reject != nil || e.Cancel != nil || len(e.Fills) > 0
}

// Reports flattens the execution in emission order: acks, fills, cancel, reject.
func (e *Execution) Reports() []protocol.VenueReport {
	out := make([]protocol.VenueReport, 0, len(e.Acks)+len(e.Fills)+2)
	for _, a := range e.Acks {
		out = append(out, a)
	}
	for _, f := range e.Fills {
		out = append(out, f)
	}
	if e.Cancel != nil {
		out = append(out, *e.Cancel)
	}
	if e.Reject != nil {
		out = append(out, *e.Reject)
	}
	return out
}
