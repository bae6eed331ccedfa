package venue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/0x5487/execution-engine/marketdata"
	"github.com/0x5487/execution-engine/protocol"
	"github.com/0x5487/execution-engine/queue"
)

// ReportSink receives the reports a venue produces, in order. A report
// refused with queue.ErrQueueFull is offered again later.
type ReportSink interface {
	OnVenueReport(rep protocol.VenueReport) error
}

// ReportSinkFunc adapts a function to ReportSink.
type ReportSinkFunc func(rep protocol.VenueReport) error

func (f ReportSinkFunc) OnVenueReport(rep protocol.VenueReport) error {
	return f(rep)
}

type query struct {
	instrument string
	depth      int
	resp       chan any
}

// request is one entry of the venue ring: a command or a query.
type request struct {
	cmd   protocol.VenueCommand
	query *query
}

// Venue simulates one trading venue: one matching loop owning one book per
// instrument.
type Venue struct {
	name     string
	matchers map[string]*Matcher
	out      *queue.Outbox[protocol.VenueReport]
	loop     *queue.Loop[request]
}

// Option configures a Venue.
type Option func(*venueOptions)

type venueOptions struct {
	capacity    int64
	loopOpts    []queue.Option
	strategies  func() []Strategy
	window      int
	instruments map[string]*marketdata.Cache
	order       []string
}

// WithInstrument adds a book for instrument priced against nbbo.
func WithInstrument(instrument string, nbbo *marketdata.Cache) Option {
	return func(o *venueOptions) {
		if _, ok := o.instruments[instrument]; !ok {
			o.order = append(o.order, instrument)
		}
		o.instruments[instrument] = nbbo
	}
}

// WithChain sets the strategy chain factory, called once per instrument.
func WithChain(chain func() []Strategy) Option {
	return func(o *venueOptions) {
		o.strategies = chain
	}
}

// WithCapacity sets the inbound ring capacity, a power of 2.
func WithCapacity(n int64) Option {
	return func(o *venueOptions) {
		o.capacity = n
	}
}

// WithLoopOptions passes options to the matching loop.
func WithLoopOptions(opts ...queue.Option) Option {
	return func(o *venueOptions) {
		o.loopOpts = append(o.loopOpts, opts...)
	}
}

// WithDedupWindow sets how many command ids each book remembers.
func WithDedupWindow(n int) Option {
	return func(o *venueOptions) {
		o.window = n
	}
}

// DefaultChain is immediate fill against the NBBO, then the book.
func DefaultChain() []Strategy {
	return []Strategy{ImmediateFill{}, Matching{}}
}

// NewVenue creates a venue named name delivering reports to sink.
func NewVenue(name string, sink ReportSink, opts ...Option) *Venue {
	o := venueOptions{
		capacity:    4096,
		strategies:  DefaultChain,
		window:      defaultCommandWindow,
		instruments: make(map[string]*marketdata.Cache),
	}
	for _, opt := range opts {
		opt(&o)
	}

	v := &Venue{
		name:     name,
		matchers: make(map[string]*Matcher, len(o.instruments)),
		out:      queue.NewOutbox("venue-"+name, sink.OnVenueReport),
	}
	ids := NewSequence(name)
	for _, in := range o.order {
		v.matchers[in] = NewMatcher(name, in,
			WithNBBO(o.instruments[in]),
			WithStrategies(o.strategies()...),
			WithSequence(ids),
			WithCommandWindow(o.window),
		)
	}
	loopOpts := append(o.loopOpts, queue.WithFlusher(v.out))
	v.loop = queue.NewLoop("venue-"+name, queue.NewRing[request](o.capacity), v.handle, loopOpts...)
	return v
}

// Name returns the venue name.
func (v *Venue) Name() string {
	return v.name
}

// Submit enqueues a command without blocking.
func (v *Venue) Submit(cmd protocol.VenueCommand) error {
	if err := v.loop.Ring().TryPublish(request{cmd: cmd}); err != nil {
		return fmt.Errorf("venue %s: %w", v.name, err)
	}
	return nil
}

// Start runs the matching loop until Shutdown.
func (v *Venue) Start() error {
	return v.loop.Start()
}

// Shutdown stops accepting commands and drains the queued ones.
func (v *Venue) Shutdown(ctx context.Context) error {
	return v.loop.Shutdown(ctx)
}

// Idle reports whether no command is queued or being matched and no report
// is waiting for room downstream.
func (v *Venue) Idle() bool {
	return v.loop.Idle()
}

// Pending returns the number of queued requests.
func (v *Venue) Pending() int64 {
	return v.loop.Ring().Len()
}

// Held returns the number of reports waiting for room downstream.
func (v *Venue) Held() int64 {
	return v.out.Len()
}

// Stats returns the book statistics of instrument, answered on the loop.
func (v *Venue) Stats(ctx context.Context, instrument string) (BookStats, error) {
	res, err := v.ask(ctx, &query{instrument: instrument, resp: make(chan any, 1)})
	if err != nil {
		return BookStats{}, err
	}
	stats, _ := res.(BookStats)
	return stats, nil
}

// Depth returns up to limit levels per side of instrument, answered on the loop.
func (v *Venue) Depth(ctx context.Context, instrument string, limit int) (Depth, error) {
	if limit <= 0 {
		return Depth{}, ErrInvalidQty
	}
	res, err := v.ask(ctx, &query{instrument: instrument, depth: limit, resp: make(chan any, 1)})
	if err != nil {
		return Depth{}, err
	}
	depth, _ := res.(Depth)
	return depth, nil
}

func (v *Venue) ask(ctx context.Context, q *query) (any, error) {
	if _, ok := v.matchers[q.instrument]; !ok {
		return nil, ErrUnknownMarket
	}
	if err := v.loop.Ring().TryPublish(request{query: q}); err != nil {
		if v.loop.Ring().Closed() {
			return nil, ErrShutdown
		}
		return nil, err
	}

	select {
	case res := <-q.resp:
		return res, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

func (v *Venue) handle(req request) {
	if req.query != nil {
		v.answer(req.query)
		return
	}

	h := req.cmd.Cmd()
	m, ok := v.matchers[h.Instrument]
	if !ok {
		logger.Warn("command for unknown instrument",
			zap.String("venue", v.name),
			zap.String("instrument", h.Instrument),
			zap.String("child_id", h.ChildID),
		)
		if c, ok := req.cmd.(protocol.NewChild); ok {
			v.out.Send(protocol.VenueRejected{
				ReportHeader: protocol.ReportHeader{
					Venue:      v.name,
					Instrument: h.Instrument,
					ClOrdID:    c.ClOrdID,
					Timestamp:  h.Timestamp,
					Meta:       h.Meta,
				},
				Request: protocol.RequestNew,
				Reason:  protocol.RejectReasonInvalidInstrument,
			})
		}
		return
	}

	exec := m.Execute(req.cmd)
	if exec.IsNoop() {
		return
	}
	v.out.Send(exec.Reports()...)
}

func (v *Venue) answer(q *query) {
	m := v.matchers[q.instrument]
	var res any
	if q.depth > 0 {
		res = m.Book().Depth(q.depth)
	} else {
		res = m.Stats()
	}

	select {
	case q.resp <- res:
	default:
	}
}
