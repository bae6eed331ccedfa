package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/0x5487/execution-engine/marketdata"
	"github.com/0x5487/execution-engine/oms"
	"github.com/0x5487/execution-engine/protocol"
	"github.com/0x5487/execution-engine/queue"
	"github.com/0x5487/execution-engine/router"
	"github.com/0x5487/execution-engine/venue"
)

// Engine wires the order pipeline, the smart order router and the simulated
// venues. Each of them runs its own loop; they only talk through rings.
type Engine struct {
	isShutdown atomic.Bool
	started    atomic.Bool

	feed     *marketdata.Feed
	pipeline *oms.Pipeline
	sor      *router.Loop
	venues   map[string]*venue.Venue
	names    []string
	metrics  *Metrics
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	reg   prometheus.Registerer
	newID func() string
}

// WithRegisterer exports engine metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *engineOptions) {
		o.reg = reg
	}
}

// WithIDGenerator replaces the child id generator of the router.
func WithIDGenerator(fn func() string) Option {
	return func(o *engineOptions) {
		o.newID = fn
	}
}

// routerFunc adapts a function to oms.Router.
type routerFunc func(protocol.RouterInput) error

func (f routerFunc) Submit(in protocol.RouterInput) error { return f(in) }

// NewEngine creates an engine from cfg. Reports are handed to publisher.
func NewEngine(cfg Config, publisher oms.Publisher, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		feed:   marketdata.NewFeed(cfg.Instruments...),
		venues: make(map[string]*venue.Venue, len(cfg.Venues)),
	}
	if o.reg != nil {
		m, err := NewMetrics(o.reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		e.metrics = m
		publisher = m.Publisher(publisher)
	}
	loopOpts := []queue.Option{queue.WithBackoff(cfg.Queue.backoff())}

	routerOpts := []router.Option{
		router.WithDefaultVenue(cfg.DefaultVenue),
		router.WithDedupWindow(cfg.DedupWindow),
	}
	if o.newID != nil {
		routerOpts = append(routerOpts, router.WithIDGenerator(o.newID))
	}
	for _, vc := range cfg.Venues {
		routerOpts = append(routerOpts, router.WithVenue(vc.Name, vc.policy()))
	}

	e.pipeline = oms.NewPipeline(oms.NewStore(), publisher, routerFunc(func(in protocol.RouterInput) error {
		return e.sor.Submit(in)
	}), cfg.Queue.Capacity, loopOpts...)

	gateways := make(map[string]router.Gateway, len(cfg.Venues))
	e.sor = router.NewLoop(router.New(router.NewChildStore(cfg.ChildStripes), routerOpts...),
		gateways, e.pipeline, cfg.Queue.Capacity, loopOpts...)

	for _, vc := range cfg.Venues {
		chain, err := vc.chain()
		if err != nil {
			return nil, err
		}
		vopts := []venue.Option{
			venue.WithChain(chain),
			venue.WithCapacity(cfg.Queue.Capacity),
			venue.WithDedupWindow(cfg.DedupWindow),
			venue.WithLoopOptions(loopOpts...),
		}
		for _, in := range cfg.Instruments {
			vopts = append(vopts, venue.WithInstrument(in, e.feed.Cache(in)))
		}
		v := venue.NewVenue(vc.Name, e.sor, vopts...)
		e.venues[vc.Name] = v
		e.names = append(e.names, vc.Name)
		gateways[vc.Name] = v
	}

	if e.metrics != nil {
		if err := e.metrics.queueDepth("oms", e.pipeline.Pending); err != nil {
			return nil, err
		}
		if err := e.metrics.queueDepth("sor", e.sor.Pending); err != nil {
			return nil, err
		}
		if err := e.metrics.heldEvents("sor", e.sor.Held); err != nil {
			return nil, err
		}
		for _, name := range e.names {
			if err := e.metrics.queueDepth("venue-"+name, e.venues[name].Pending); err != nil {
				return nil, err
			}
			if err := e.metrics.heldEvents("venue-"+name, e.venues[name].Held); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

// Start runs every loop in its own goroutine. It does not block.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	for _, name := range e.names {
		go func(v *venue.Venue) {
			_ = v.Start()
		}(e.venues[name])
	}
	go func() {
		_ = e.sor.Start()
	}()
	go func() {
		_ = e.pipeline.Start()
	}()
	logger.Info("engine started", zap.Strings("venues", e.names), zap.Int("instruments", e.feed.Instruments()))
}

// Submit accepts a new parent order.
func (e *Engine) Submit(ev protocol.NewOrder) error {
	return e.submit(ev)
}

// Cancel asks to cancel a parent order.
func (e *Engine) Cancel(ev protocol.CancelOrder) error {
	return e.submit(ev)
}

// Replace asks to change the quantity or limit price of a parent order.
func (e *Engine) Replace(ev protocol.ReplaceOrder) error {
	return e.submit(ev)
}

func (e *Engine) submit(ev protocol.OrderEvent) error {
	if e.isShutdown.Load() {
		return ErrShutdown
	}
	if err := e.pipeline.Submit(ev); err != nil {
		if e.metrics != nil {
			e.metrics.dropped.Inc()
		}
		return err
	}
	return nil
}

// UpdateNBBO replaces the NBBO snapshot of instrument.
func (e *Engine) UpdateNBBO(instrument string, s marketdata.Snapshot) error {
	return e.feed.Update(instrument, s)
}

// EndSession expires live DAY and GTD orders. With purge set, orders already
// terminal are dropped first.
func (e *Engine) EndSession(ts int64, meta protocol.Meta, purge bool) error {
	if e.isShutdown.Load() {
		return ErrShutdown
	}
	return e.pipeline.EndSession(ts, meta, purge)
}

// Order returns the current state of a parent order.
func (e *Engine) Order(ctx context.Context, parentID string) (oms.OrderState, error) {
	st, err := e.pipeline.Order(ctx, parentID)
	switch {
	case errors.Is(err, oms.ErrNotFound):
		return st, fmt.Errorf("order %s: %w", parentID, ErrNotFound)
	case errors.Is(err, oms.ErrTimeout):
		return st, ErrTimeout
	}
	return st, err
}

// Depth returns up to limit price levels of instrument at venue.
func (e *Engine) Depth(ctx context.Context, venueName, instrument string, limit int) (venue.Depth, error) {
	v, ok := e.venues[venueName]
	if !ok {
		return venue.Depth{}, fmt.Errorf("venue %s: %w", venueName, ErrNotFound)
	}
	return v.Depth(ctx, instrument, limit)
}

// Stats returns the book statistics of instrument at venue.
func (e *Engine) Stats(ctx context.Context, venueName, instrument string) (venue.BookStats, error) {
	v, ok := e.venues[venueName]
	if !ok {
		return venue.BookStats{}, fmt.Errorf("venue %s: %w", venueName, ErrNotFound)
	}
	return v.Stats(ctx, instrument)
}

// Quiesce waits until every loop has been idle on two consecutive checks,
// so nothing is in flight between them.
func (e *Engine) Quiesce(ctx context.Context) error {
	b := queue.Backoff{Spins: 10, Yields: 10, Park: 50 * time.Microsecond}
	quiet := 0
	for quiet < 2 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if e.idle() {
			quiet++
		} else {
			quiet = 0
		}
		b.Idle()
	}
	return nil
}

func (e *Engine) idle() bool {
	if !e.pipeline.Idle() || !e.sor.Idle() {
		return false
	}
	for _, v := range e.venues {
		if !v.Idle() {
			return false
		}
	}
	return true
}

// Shutdown stops accepting client events, lets in-flight work settle and
// stops every loop, upstream first. It blocks until all loops are stopped
// or ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.isShutdown.Store(true)
	if !e.started.Load() {
		return nil
	}

	var errs []error
	if err := e.Quiesce(ctx); err != nil {
		errs = append(errs, fmt.Errorf("quiesce: %w", err))
	}
	if err := e.pipeline.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("oms: %w", err))
	}
	if err := e.sor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sor: %w", err))
	}

	var wg sync.WaitGroup
	var errMu sync.Mutex
	for _, name := range e.names {
		wg.Add(1)
		go func(name string, v *venue.Venue) {
			defer wg.Done()
			if err := v.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("venue %s: %w", name, err))
				errMu.Unlock()
			}
		}(name, e.venues[name])
	}
	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("engine stopped")
	return nil
}
