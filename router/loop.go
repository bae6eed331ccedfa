package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/0x5487/execution-engine/protocol"
	"github.com/0x5487/execution-engine/queue"
)

// Gateway accepts commands for one venue without blocking.
type Gateway interface {
	Submit(cmd protocol.VenueCommand) error
}

// EventSink receives parent order events produced by the router. It returns
// an error wrapping queue.ErrQueueFull when the event should be offered again.
type EventSink interface {
	OnOrderEvent(ev protocol.OrderEvent) error
}

// Loop drives a Router from a single inbound ring: intents and requests from
// the order pipeline and reports from venues.
type Loop struct {
	router   *Router
	gateways map[string]Gateway
	out      *queue.Outbox[protocol.OrderEvent]
	loop     *queue.Loop[protocol.RouterInput]
}

// NewLoop creates the routing loop. gateways maps venue names to venues.
func NewLoop(r *Router, gateways map[string]Gateway, sink EventSink, capacity int64, opts ...queue.Option) *Loop {
	l := &Loop{
		router:   r,
		gateways: gateways,
		out:      queue.NewOutbox("sor", sink.OnOrderEvent),
	}
	opts = append(opts[:len(opts):len(opts)], queue.WithFlusher(l.out))
	l.loop = queue.NewLoop("sor", queue.NewRing[protocol.RouterInput](capacity), l.handle, opts...)
	return l
}

// Submit enqueues an input without blocking.
func (l *Loop) Submit(in protocol.RouterInput) error {
	return l.loop.Ring().TryPublish(in)
}

// OnVenueReport enqueues one venue report without blocking.
func (l *Loop) OnVenueReport(rep protocol.VenueReport) error {
	return l.Submit(rep)
}

// Start runs the loop until Shutdown.
func (l *Loop) Start() error {
	return l.loop.Start()
}

// Shutdown stops accepting inputs and drains the queued ones.
func (l *Loop) Shutdown(ctx context.Context) error {
	return l.loop.Shutdown(ctx)
}

// Idle reports whether nothing is queued, being routed or waiting for room
// in the order pipeline.
func (l *Loop) Idle() bool {
	return l.loop.Idle()
}

// Pending returns the number of queued inputs.
func (l *Loop) Pending() int64 {
	return l.loop.Ring().Len()
}

// Held returns the number of order events waiting for room in the pipeline.
func (l *Loop) Held() int64 {
	return l.out.Len()
}

func (l *Loop) handle(in protocol.RouterInput) {
	fx := l.router.Handle(in)
	for len(fx.Commands) > 0 {
		cmds := fx.Commands
		fx.Commands = nil
		for _, cmd := range cmds {
			fx.Merge(l.send(cmd))
		}
	}

	// Fills are already in the child store; events the pipeline cannot take
	// yet wait in the outbox.
	l.out.Send(fx.Events...)
}

// send hands cmd to its venue. A command the venue cannot take is answered
// locally with a rejection so the child does not wait forever.
func (l *Loop) send(cmd protocol.VenueCommand) Effects {
	h := cmd.Cmd()
	err := ErrUnknownVenue
	if gw, ok := l.gateways[h.Venue]; ok {
		err = gw.Submit(cmd)
	}
	if err == nil {
		return Effects{}
	}

	logger.Warn("venue command not delivered",
		zap.String("venue", h.Venue),
		zap.String("child_id", h.ChildID),
		zap.Error(err),
	)
	rej := protocol.VenueRejected{
		ReportHeader: protocol.ReportHeader{
			Venue:      h.Venue,
			Instrument: h.Instrument,
			ChildID:    h.ChildID,
			Timestamp:  h.Timestamp,
			Meta:       h.Meta,
		},
		Text: err.Error(),
	}
	switch cmd.(type) {
	case protocol.NewChild:
		rej.Request = protocol.RequestNew
		rej.Reason = protocol.RejectReasonThrottled
	case protocol.CancelChild:
		rej.Request = protocol.RequestCancel
		rej.CancelReject = protocol.CancelRejectVenueRejected
	case protocol.ReplaceChild:
		rej.Request = protocol.RequestReplace
		rej.CancelReject = protocol.CancelRejectVenueRejected
	}
	return l.router.OnVenueReport(rej)
}
