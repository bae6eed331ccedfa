package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/0x5487/execution-engine/marketdata"
	"github.com/0x5487/execution-engine/oms"
	"github.com/0x5487/execution-engine/protocol"
	"github.com/0x5487/execution-engine/venue"
)

var px = protocol.MustPrice

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Instruments = []string{"AAPL"}
	cfg.Queue.Capacity = 256
	cfg.Venues = []VenueConfig{{
		Name:          "SIM",
		ImmediateFill: true,
		FatFinger:     &FatFingerConfig{Up: "5", Down: "5"},
	}}
	return cfg
}

func startEngine(t *testing.T, cfg Config) (*Engine, *oms.MemoryPublisher) {
	t.Helper()
	SetLoggers(zaptest.NewLogger(t))

	pub := oms.NewMemoryPublisher()
	engine, err := NewEngine(cfg, pub)
	require.NoError(t, err)
	engine.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, engine.Shutdown(ctx))
		SetLoggers(zap.NewNop())
	})
	return engine, pub
}

func order(id string, side protocol.Side, typ protocol.OrderType, qty protocol.Qty, limit string) protocol.NewOrder {
	o := protocol.NewOrder{
		Header:     protocol.Header{ParentID: id, Timestamp: time.Now().UnixNano(), Meta: protocol.Meta{Hop: 1, Seq: 7}},
		ClOrdID:    "cl-" + id,
		Account:    "desk",
		Instrument: "AAPL",
		Side:       side,
		Qty:        qty,
		Type:       typ,
		TIF:        protocol.TimeInForceDay,
	}
	if limit != "" {
		o.LimitPrice = px(limit)
	}
	return o
}

// waitStatus waits until parent id reaches status and returns its state.
func waitStatus(t *testing.T, e *Engine, id string, status protocol.OrdStatus) oms.OrderState {
	t.Helper()
	var st oms.OrderState
	require.Eventually(t, func() bool {
		var err error
		st, err = e.Order(context.Background(), id)
		return err == nil && st.EffectiveStatus() == status
	}, 2*time.Second, time.Millisecond, "order %s never reached %s (last %s)", id, status, st.EffectiveStatus())
	assert.Equal(t, st.OrigQty, st.Cum+st.Leaves)
	return st
}

func TestEngine(t *testing.T) {
	t.Run("market buy fills at the ask", func(t *testing.T) {
		e, pub := startEngine(t, testConfig())
		require.NoError(t, e.UpdateNBBO("AAPL", marketdata.Quote(px("100.00"), px("100.01"), 1)))

		require.NoError(t, e.Submit(order("p1", protocol.SideBuy, protocol.OrderTypeMarket, 1000, "")))
		st := waitStatus(t, e, "p1", protocol.StatusFilled)

		assert.Equal(t, protocol.Qty(1000), st.Cum)
		assert.Equal(t, protocol.Qty(0), st.Leaves)
		assert.Equal(t, px("100.01"), st.AvgPx)
		assert.Equal(t, []protocol.ExecKind{protocol.ExecPendingNew, protocol.ExecNew, protocol.ExecFill}, pub.Kinds("p1"))
		for _, r := range pub.ForParent("p1") {
			assert.Equal(t, protocol.Meta{Hop: 1, Seq: 7}, r.Meta, "%s", r.Kind)
		}

		stats, err := e.Stats(context.Background(), "SIM", "AAPL")
		require.NoError(t, err)
		assert.Equal(t, venue.BookStats{}, stats, "immediate fills do not touch the book")

		t.Run("cancel after fill is rejected", func(t *testing.T) {
			require.NoError(t, e.Cancel(protocol.CancelOrder{Header: protocol.Header{ParentID: "p1"}, ClOrdID: "cl-p1-c"}))
			require.Eventually(t, func() bool { return len(pub.Kinds("p1")) == 4 }, time.Second, time.Millisecond)

			r := pub.ForParent("p1")[3]
			assert.Equal(t, protocol.ExecCancelReject, r.Kind)
			assert.Equal(t, string(protocol.CancelRejectAlreadyFilled), r.Reason)
			assert.Equal(t, protocol.StatusFilled, r.Status)

			again, err := e.Order(context.Background(), "p1")
			require.NoError(t, err)
			assert.Equal(t, st.Cum, again.Cum)
			assert.Equal(t, protocol.StatusFilled, again.Status)
		})
	})

	t.Run("non crossing limit rests", func(t *testing.T) {
		e, _ := startEngine(t, testConfig())
		require.NoError(t, e.UpdateNBBO("AAPL", marketdata.Quote(px("99.40"), px("99.60"), 1)))

		require.NoError(t, e.Submit(order("p1", protocol.SideBuy, protocol.OrderTypeLimit, 1000, "99.50")))
		st := waitStatus(t, e, "p1", protocol.StatusWorking)
		assert.Equal(t, protocol.Qty(0), st.Cum)

		depth, err := e.Depth(context.Background(), "SIM", "AAPL", 5)
		require.NoError(t, err)
		assert.Equal(t, []venue.Level{{Price: px("99.50"), Qty: 1000, Orders: 1}}, depth.Bids)
		assert.Empty(t, depth.Asks)

		t.Run("replace moves the child", func(t *testing.T) {
			require.NoError(t, e.Replace(protocol.ReplaceOrder{
				Header:     protocol.Header{ParentID: "p1"},
				ClOrdID:    "cl-p1-r",
				Qty:        600,
				LimitPrice: px("99.55"),
			}))
			require.Eventually(t, func() bool {
				st, err := e.Order(context.Background(), "p1")
				return err == nil && st.LimitPrice == px("99.55")
			}, 2*time.Second, time.Millisecond)

			st := waitStatus(t, e, "p1", protocol.StatusWorking)
			assert.Equal(t, protocol.Qty(600), st.OrigQty)
			assert.Equal(t, "cl-p1-r", st.ClOrdID)

			depth, err := e.Depth(context.Background(), "SIM", "AAPL", 5)
			require.NoError(t, err)
			assert.Equal(t, []venue.Level{{Price: px("99.55"), Qty: 600, Orders: 1}}, depth.Bids)
		})

		t.Run("cancel takes the child off the book", func(t *testing.T) {
			require.NoError(t, e.Cancel(protocol.CancelOrder{Header: protocol.Header{ParentID: "p1"}}))
			st := waitStatus(t, e, "p1", protocol.StatusCanceled)
			assert.Equal(t, protocol.Qty(0), st.Cum)

			stats, err := e.Stats(context.Background(), "SIM", "AAPL")
			require.NoError(t, err)
			assert.Equal(t, int64(0), stats.BidOrders)
		})
	})

	t.Run("cancel right behind a replace", func(t *testing.T) {
		e, _ := startEngine(t, testConfig())
		require.NoError(t, e.UpdateNBBO("AAPL", marketdata.Quote(px("99.40"), px("99.60"), 1)))
		require.NoError(t, e.Submit(order("p1", protocol.SideBuy, protocol.OrderTypeLimit, 1000, "99.50")))
		waitStatus(t, e, "p1", protocol.StatusWorking)

		require.NoError(t, e.Replace(protocol.ReplaceOrder{
			Header:     protocol.Header{ParentID: "p1"},
			ClOrdID:    "cl-p1-r",
			Qty:        800,
			LimitPrice: px("99.45"),
		}))
		require.NoError(t, e.Cancel(protocol.CancelOrder{Header: protocol.Header{ParentID: "p1"}, ClOrdID: "cl-p1-c"}))

		st := waitStatus(t, e, "p1", protocol.StatusCanceled)
		assert.Empty(t, st.Pending)

		stats, err := e.Stats(context.Background(), "SIM", "AAPL")
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.BidOrders)
	})

	t.Run("parents cross each other on the book", func(t *testing.T) {
		e, _ := startEngine(t, testConfig())

		require.NoError(t, e.Submit(order("sell", protocol.SideSell, protocol.OrderTypeLimit, 300, "100")))
		waitStatus(t, e, "sell", protocol.StatusWorking)

		require.NoError(t, e.Submit(order("buy", protocol.SideBuy, protocol.OrderTypeLimit, 500, "101")))
		buy := waitStatus(t, e, "buy", protocol.StatusPartiallyFilled)
		sell := waitStatus(t, e, "sell", protocol.StatusFilled)

		assert.Equal(t, protocol.Qty(300), buy.Cum)
		assert.Equal(t, px("100"), buy.AvgPx, "fills at the resting price")
		assert.Equal(t, px("100"), sell.AvgPx)

		depth, err := e.Depth(context.Background(), "SIM", "AAPL", 5)
		require.NoError(t, err)
		assert.Equal(t, []venue.Level{{Price: px("101"), Qty: 200, Orders: 1}}, depth.Bids)
	})

	t.Run("fat finger rejects the parent", func(t *testing.T) {
		e, pub := startEngine(t, testConfig())
		require.NoError(t, e.UpdateNBBO("AAPL", marketdata.Quote(px("100.00"), px("100.01"), 1)))

		require.NoError(t, e.Submit(order("p1", protocol.SideBuy, protocol.OrderTypeLimit, 100, "120")))
		waitStatus(t, e, "p1", protocol.StatusRejected)

		reports := pub.ForParent("p1")
		last := reports[len(reports)-1]
		assert.Equal(t, protocol.ExecRejected, last.Kind)
		assert.True(t, strings.HasPrefix(last.Reason, string(protocol.RejectReasonRiskCheck)), last.Reason)
	})

	t.Run("ioc without liquidity is canceled", func(t *testing.T) {
		e, pub := startEngine(t, testConfig())

		o := order("p1", protocol.SideBuy, protocol.OrderTypeLimit, 100, "100")
		o.TIF = protocol.TimeInForceIOC
		require.NoError(t, e.Submit(o))
		st := waitStatus(t, e, "p1", protocol.StatusCanceled)

		assert.Equal(t, protocol.Qty(0), st.Cum)
		reports := pub.ForParent("p1")
		assert.Equal(t, string(protocol.CancelReasonUnfilled), reports[len(reports)-1].Reason)
	})

	t.Run("unknown venue rejects the parent", func(t *testing.T) {
		e, _ := startEngine(t, testConfig())

		o := order("p1", protocol.SideBuy, protocol.OrderTypeLimit, 100, "100")
		o.Venue = "NOPE"
		require.NoError(t, e.Submit(o))
		waitStatus(t, e, "p1", protocol.StatusRejected)
	})

	t.Run("unknown instrument rejects the parent", func(t *testing.T) {
		e, _ := startEngine(t, testConfig())

		o := order("p1", protocol.SideBuy, protocol.OrderTypeLimit, 100, "100")
		o.Instrument = "MSFT"
		require.NoError(t, e.Submit(o))
		waitStatus(t, e, "p1", protocol.StatusRejected)
	})

	t.Run("session end expires day orders", func(t *testing.T) {
		e, pub := startEngine(t, testConfig())

		require.NoError(t, e.Submit(order("day", protocol.SideBuy, protocol.OrderTypeLimit, 100, "90")))
		gtc := order("gtc", protocol.SideBuy, protocol.OrderTypeLimit, 100, "91")
		gtc.TIF = protocol.TimeInForceGTC
		require.NoError(t, e.Submit(gtc))
		waitStatus(t, e, "day", protocol.StatusWorking)
		waitStatus(t, e, "gtc", protocol.StatusWorking)

		require.NoError(t, e.EndSession(time.Now().UnixNano(), protocol.Meta{}, false))
		waitStatus(t, e, "day", protocol.StatusCanceled)
		reports := pub.ForParent("day")
		assert.Equal(t, string(protocol.CancelReasonExpired), reports[len(reports)-1].Reason)

		require.NoError(t, e.Quiesce(context.Background()))
		st, err := e.Order(context.Background(), "gtc")
		require.NoError(t, err)
		assert.Equal(t, protocol.StatusWorking, st.Status)
	})

	t.Run("unknown order", func(t *testing.T) {
		e, _ := startEngine(t, testConfig())
		_, err := e.Order(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = e.Depth(context.Background(), "NOPE", "AAPL", 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEngineShutdown(t *testing.T) {
	pub := oms.NewMemoryPublisher()
	e, err := NewEngine(testConfig(), pub)
	require.NoError(t, err)
	e.Start()

	require.NoError(t, e.Submit(order("p1", protocol.SideBuy, protocol.OrderTypeLimit, 100, "100")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	assert.ErrorIs(t, e.Submit(order("p2", protocol.SideBuy, protocol.OrderTypeLimit, 100, "100")), ErrShutdown)
	assert.Equal(t, []protocol.ExecKind{protocol.ExecPendingNew, protocol.ExecNew}, pub.Kinds("p1"), "in-flight work settles before stop")
}

func TestNewEngineInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Instruments = nil
	_, err := NewEngine(cfg, oms.NewDiscardPublisher())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
