package oms

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/0x5487/execution-engine/protocol"
	"github.com/0x5487/execution-engine/queue"
)

// Router accepts routing intents and side-effect requests without blocking.
type Router interface {
	Submit(in protocol.RouterInput) error
}

type query struct {
	parentID string
	resp     chan OrderState
}

type sessionEnd struct {
	header protocol.Header
	purge  bool
}

// input is one entry of the pipeline ring.
type input struct {
	ev      protocol.OrderEvent
	query   *query
	session *sessionEnd
}

// Pipeline is the single writer of parent order state. Client events and
// child events are applied in arrival order; follow-ups produced by a step
// are applied before the next inbound event.
type Pipeline struct {
	store     *Store
	publisher Publisher
	router    Router
	loop      *queue.Loop[input]
}

// NewPipeline creates the order pipeline. Reports go to publisher, intents
// and requests to router.
func NewPipeline(store *Store, publisher Publisher, router Router, capacity int64, opts ...queue.Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		publisher: publisher,
		router:    router,
	}
	p.loop = queue.NewLoop("oms", queue.NewRing[input](capacity), p.handle, opts...)
	return p
}

// Submit enqueues one order event without blocking.
func (p *Pipeline) Submit(ev protocol.OrderEvent) error {
	if err := p.loop.Ring().TryPublish(input{ev: ev}); err != nil {
		return fmt.Errorf("submit %T for %s: %w", ev, ev.Head().ParentID, err)
	}
	return nil
}

// OnOrderEvent enqueues one child event coming back from routing.
func (p *Pipeline) OnOrderEvent(ev protocol.OrderEvent) error {
	return p.Submit(ev)
}

// EndSession expires every live DAY and GTD order. With purge set, orders
// that are terminal at that point are dropped from the store first.
func (p *Pipeline) EndSession(ts int64, meta protocol.Meta, purge bool) error {
	in := input{session: &sessionEnd{header: protocol.Header{Timestamp: ts, Meta: meta}, purge: purge}}
	if err := p.loop.Ring().TryPublish(in); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Order returns the state of a parent order, read on the loop.
func (p *Pipeline) Order(ctx context.Context, parentID string) (OrderState, error) {
	q := &query{parentID: parentID, resp: make(chan OrderState, 1)}
	if err := p.loop.Ring().TryPublish(input{query: q}); err != nil {
		if p.loop.Ring().Closed() {
			return OrderState{}, ErrShutdown
		}
		return OrderState{}, err
	}

	select {
	case st := <-q.resp:
		if st.ID == "" {
			return OrderState{}, fmt.Errorf("order %s: %w", parentID, ErrNotFound)
		}
		return st, nil
	case <-ctx.Done():
		return OrderState{}, ErrTimeout
	}
}

// Start runs the pipeline loop until Shutdown.
func (p *Pipeline) Start() error {
	return p.loop.Start()
}

// Shutdown stops accepting events and drains the queued ones.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.loop.Shutdown(ctx)
}

// Idle reports whether no event is queued or being applied.
func (p *Pipeline) Idle() bool {
	return p.loop.Idle()
}

// Pending returns the number of queued inputs.
func (p *Pipeline) Pending() int64 {
	return p.loop.Ring().Len()
}

func (p *Pipeline) handle(in input) {
	switch {
	case in.query != nil:
		st, _ := p.store.Get(in.query.parentID)
		in.query.resp <- st
	case in.session != nil:
		p.endSession(in.session)
	case in.ev != nil:
		p.process(in.ev)
	}
}

func (p *Pipeline) endSession(s *sessionEnd) {
	if s.purge {
		n := p.store.Purge()
		logger.Info("terminal orders purged", zap.Int("count", n))
	}
	for _, id := range p.store.Active() {
		st, _ := p.store.Get(id)
		if st.TIF != protocol.TimeInForceDay && st.TIF != protocol.TimeInForceGTD {
			continue
		}
		h := s.header
		h.ParentID = id
		p.process(protocol.ExpireOrder{Header: h})
	}
}

// process applies ev and then its follow-ups, depth first.
func (p *Pipeline) process(ev protocol.OrderEvent) {
	stack := []protocol.OrderEvent{ev}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		followUps := p.step(next)
		for i := len(followUps) - 1; i >= 0; i-- {
			stack = append(stack, followUps[i])
		}
	}
}

func (p *Pipeline) step(ev protocol.OrderEvent) []protocol.OrderEvent {
	h := ev.Head()
	st, ok := p.store.Get(h.ParentID)
	if !ok {
		switch e := ev.(type) {
		case protocol.NewOrder:
			st = Bootstrap(e)
		case protocol.CancelOrder:
			p.publisher.Publish(unknownOrder(h, e.ClOrdID))
			return nil
		case protocol.ReplaceOrder:
			p.publisher.Publish(unknownOrder(h, e.ClOrdID))
			return nil
		default:
			logger.Warn("event for unknown order",
				zap.String("parent_id", h.ParentID),
				zap.String("type", fmt.Sprintf("%T", ev)),
			)
			return nil
		}
	}

	fx := Apply(st, ev)
	p.store.Put(fx.State)
	if len(fx.Reports) > 0 {
		p.publisher.Publish(fx.Reports...)
	}

	followUps := fx.FollowUps
	for _, in := range fx.Intents {
		if err := p.router.Submit(in); err != nil {
			logger.Error("route intent not delivered", zap.String("parent_id", h.ParentID), zap.Error(err))
			followUps = append(followUps, protocol.ChildRejected{
				Header: in.Head(),
				Reason: protocol.RejectReasonThrottled,
				Text:   err.Error(),
			})
		}
	}
	for _, req := range fx.Requests {
		if err := p.router.Submit(req); err != nil {
			logger.Error("request not delivered", zap.String("parent_id", h.ParentID), zap.Error(err))
			_, replace := req.(protocol.ReplaceChildren)
			followUps = append(followUps, protocol.ChildCancelRejected{
				Header:  req.Head(),
				Reason:  protocol.CancelRejectVenueRejected,
				Replace: replace,
			})
		}
	}
	return followUps
}

func unknownOrder(h protocol.Header, clOrdID string) protocol.ExecutionReport {
	return protocol.ExecutionReport{
		ParentID:  h.ParentID,
		ClOrdID:   clOrdID,
		Kind:      protocol.ExecCancelReject,
		Timestamp: h.Timestamp,
		Reason:    string(protocol.CancelRejectUnknownOrder),
		Meta:      h.Meta,
	}
}
