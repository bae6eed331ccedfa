package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5487/execution-engine/marketdata"
	"github.com/0x5487/execution-engine/protocol"
)

const testInstrument = "AAPL"

func newChild(id string, side protocol.Side, typ protocol.OrderType, price protocol.Price, qty protocol.Qty, tif protocol.TimeInForce) protocol.NewChild {
	return protocol.NewChild{
		CommandHeader: protocol.CommandHeader{
			CommandID:  "cmd-" + id,
			Venue:      "XNAS",
			Instrument: testInstrument,
			ChildID:    id,
			Timestamp:  1,
			Meta:       protocol.Meta{Hop: 1, Seq: 7},
		},
		ClOrdID: "cl-" + id,
		Side:    side,
		Type:    typ,
		Price:   price,
		Qty:     qty,
		TIF:     tif,
	}
}

func limit(id string, side protocol.Side, price string, qty protocol.Qty, tif protocol.TimeInForce) protocol.NewChild {
	return newChild(id, side, protocol.OrderTypeLimit, px(price), qty, tif)
}

func market(id string, side protocol.Side, qty protocol.Qty, tif protocol.TimeInForce) protocol.NewChild {
	return newChild(id, side, protocol.OrderTypeMarket, 0, qty, tif)
}

func fillsFor(exec Execution, clOrdID string) []protocol.VenueFill {
	var out []protocol.VenueFill
	for _, f := range exec.Fills {
		if f.ClOrdID == clOrdID {
			out = append(out, f)
		}
	}
	return out
}

func TestMatcherOnNew(t *testing.T) {
	t.Run("market sell consumes earlier line first", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		first := limit("b1", protocol.SideBuy, "100", 100, protocol.TimeInForceDay)
		first.Timestamp = 1
		second := limit("b2", protocol.SideBuy, "100", 100, protocol.TimeInForceDay)
		second.Timestamp = 2
		m.OnNew(first)
		m.OnNew(second)

		exec := m.OnNew(market("s1", protocol.SideSell, 150, protocol.TimeInForceIOC))

		taker := fillsFor(exec, "cl-s1")
		require.Len(t, taker, 2)
		assert.Equal(t, protocol.Qty(100), taker[0].Qty)
		assert.Equal(t, protocol.Qty(50), taker[1].Qty)
		assert.Equal(t, protocol.Qty(0), taker[1].Leaves)

		b1 := fillsFor(exec, "cl-b1")
		require.Len(t, b1, 1)
		assert.Equal(t, protocol.Qty(100), b1[0].Qty)
		assert.True(t, b1[0].Maker)
		assert.Equal(t, protocol.Qty(0), b1[0].Leaves)

		b2 := fillsFor(exec, "cl-b2")
		require.Len(t, b2, 1)
		assert.Equal(t, protocol.Qty(50), b2[0].Qty)
		assert.Equal(t, protocol.Qty(50), b2[0].Leaves)

		assert.Nil(t, m.Book().Lookup("b1"))
		assert.Equal(t, protocol.Qty(50), m.Book().Lookup("b2").Leaves())
		assert.Nil(t, exec.Cancel)
	})

	t.Run("buy limit at or above ask executes at ask", func(t *testing.T) {
		for _, limitPx := range []string{"100.01", "100.50", "250"} {
			m := NewMatcher("XNAS", testInstrument)
			m.OnNew(limit("a1", protocol.SideSell, "100.01", 10, protocol.TimeInForceGTC))

			exec := m.OnNew(limit("b1", protocol.SideBuy, limitPx, 10, protocol.TimeInForceDay))
			taker := fillsFor(exec, "cl-b1")
			require.Len(t, taker, 1, limitPx)
			assert.Equal(t, px("100.01"), taker[0].Price, limitPx)
		}
	})

	t.Run("sell limit at or below bid executes at bid", func(t *testing.T) {
		for _, limitPx := range []string{"99.99", "99", "0.01"} {
			m := NewMatcher("XNAS", testInstrument)
			m.OnNew(limit("b1", protocol.SideBuy, "99.99", 10, protocol.TimeInForceGTC))

			exec := m.OnNew(limit("s1", protocol.SideSell, limitPx, 10, protocol.TimeInForceDay))
			taker := fillsFor(exec, "cl-s1")
			require.Len(t, taker, 1, limitPx)
			assert.Equal(t, px("99.99"), taker[0].Price, limitPx)
		}
	})

	t.Run("non crossing limit rests", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		m.OnNew(limit("a1", protocol.SideSell, "100", 10, protocol.TimeInForceDay))

		exec := m.OnNew(limit("b1", protocol.SideBuy, "99.50", 10, protocol.TimeInForceDay))
		require.Len(t, exec.Acks, 1)
		assert.Empty(t, exec.Fills)
		assert.Nil(t, exec.Cancel)
		assert.NotEmpty(t, exec.Acks[0].VenueOrderID)

		r := m.Book().Lookup("b1")
		require.NotNil(t, r)
		assert.Equal(t, px("99.50"), r.Price())
	})

	t.Run("limit sweeps levels without skipping and rests the rest", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		m.OnNew(limit("a1", protocol.SideSell, "100", 5, protocol.TimeInForceDay))
		m.OnNew(limit("a2", protocol.SideSell, "101", 5, protocol.TimeInForceDay))
		m.OnNew(limit("a3", protocol.SideSell, "102", 5, protocol.TimeInForceDay))

		exec := m.OnNew(limit("b1", protocol.SideBuy, "101", 20, protocol.TimeInForceDay))
		taker := fillsFor(exec, "cl-b1")
		require.Len(t, taker, 2)
		assert.Equal(t, px("100"), taker[0].Price)
		assert.Equal(t, px("101"), taker[1].Price)
		assert.Equal(t, protocol.Qty(10), m.Book().Lookup("b1").Leaves())
		assert.NotNil(t, m.Book().Lookup("a3"))
	})

	t.Run("ioc without contra acks and cancels", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)

		exec := m.OnNew(limit("b1", protocol.SideBuy, "100", 10, protocol.TimeInForceIOC))
		assert.Len(t, exec.Acks, 1)
		assert.Empty(t, exec.Fills)
		require.NotNil(t, exec.Cancel)
		assert.Equal(t, protocol.CancelReasonUnfilled, exec.Cancel.Reason)
		assert.Equal(t, protocol.Qty(10), exec.Cancel.Qty)
		assert.Nil(t, m.Book().Lookup("b1"))
		assert.Equal(t, int64(0), m.Stats().BidOrders)
	})

	t.Run("ioc partial fill cancels the remainder", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		m.OnNew(limit("a1", protocol.SideSell, "100", 4, protocol.TimeInForceDay))

		exec := m.OnNew(limit("b1", protocol.SideBuy, "100", 10, protocol.TimeInForceIOC))
		assert.Len(t, fillsFor(exec, "cl-b1"), 1)
		require.NotNil(t, exec.Cancel)
		assert.Equal(t, protocol.Qty(6), exec.Cancel.Qty)
		assert.Nil(t, m.Book().Lookup("b1"))
	})

	t.Run("fok with insufficient depth fills nothing", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		m.OnNew(limit("a1", protocol.SideSell, "100", 4, protocol.TimeInForceDay))
		m.OnNew(limit("a2", protocol.SideSell, "102", 10, protocol.TimeInForceDay))

		exec := m.OnNew(limit("b1", protocol.SideBuy, "101", 10, protocol.TimeInForceFOK))
		assert.Empty(t, exec.Fills)
		require.NotNil(t, exec.Cancel)
		assert.Equal(t, protocol.CancelReasonUnfilled, exec.Cancel.Reason)
		assert.Equal(t, protocol.Qty(4), m.Book().Lookup("a1").Leaves())
	})

	t.Run("fok with enough depth fills completely", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		m.OnNew(limit("a1", protocol.SideSell, "100", 4, protocol.TimeInForceDay))
		m.OnNew(limit("a2", protocol.SideSell, "101", 10, protocol.TimeInForceDay))

		exec := m.OnNew(limit("b1", protocol.SideBuy, "101", 10, protocol.TimeInForceFOK))
		assert.Len(t, fillsFor(exec, "cl-b1"), 2)
		assert.Nil(t, exec.Cancel)
	})

	t.Run("market remainder never rests", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		m.OnNew(limit("a1", protocol.SideSell, "100", 4, protocol.TimeInForceDay))

		exec := m.OnNew(market("b1", protocol.SideBuy, 10, protocol.TimeInForceDay))
		require.NotNil(t, exec.Cancel)
		assert.Equal(t, protocol.Qty(6), exec.Cancel.Qty)
		assert.Nil(t, m.Book().Lookup("b1"))
	})

	t.Run("same command id is applied once", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		cmd := limit("b1", protocol.SideBuy, "100", 10, protocol.TimeInForceDay)

		assert.Len(t, m.OnNew(cmd).Acks, 1)
		again := m.OnNew(cmd)
		assert.True(t, again.IsNoop())
		assert.Equal(t, int64(1), m.Stats().BidOrders)
	})

	t.Run("invalid commands are rejected", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)

		bad := limit("b1", protocol.SideBuy, "100", 0, protocol.TimeInForceDay)
		exec := m.OnNew(bad)
		require.NotNil(t, exec.Reject)
		assert.Equal(t, protocol.RejectReasonInvalidQty, exec.Reject.Reason)
		assert.Equal(t, "cl-b1", exec.Reject.ClOrdID)

		other := limit("b2", protocol.SideBuy, "100", 10, protocol.TimeInForceDay)
		other.Instrument = "MSFT"
		assert.Equal(t, protocol.RejectReasonInvalidInstrument, m.OnNew(other).Reject.Reason)

		m.OnNew(limit("b3", protocol.SideBuy, "100", 10, protocol.TimeInForceDay))
		dup := limit("b3", protocol.SideBuy, "100", 10, protocol.TimeInForceDay)
		dup.CommandID = "another"
		assert.Equal(t, protocol.RejectReasonDuplicateOrder, m.OnNew(dup).Reject.Reason)
	})

	t.Run("reports carry the command meta", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		exec := m.OnNew(limit("b1", protocol.SideBuy, "100", 10, protocol.TimeInForceIOC))
		for _, r := range exec.Reports() {
			assert.Equal(t, protocol.Meta{Hop: 1, Seq: 7}, r.Report().Meta)
		}
	})
}

func TestMatcherOnCancel(t *testing.T) {
	m := NewMatcher("XNAS", testInstrument)
	ack := m.OnNew(limit("b1", protocol.SideBuy, "100", 10, protocol.TimeInForceDay)).Acks[0]
	m.OnNew(limit("s1", protocol.SideSell, "100", 3, protocol.TimeInForceIOC))

	cancel := protocol.CancelChild{
		CommandHeader: protocol.CommandHeader{CommandID: "cx-1", Instrument: testInstrument, ChildID: "b1"},
		VenueOrderID:  ack.VenueOrderID,
	}
	exec := m.OnCancel(cancel)
	require.NotNil(t, exec.Cancel)
	assert.Equal(t, protocol.Qty(7), exec.Cancel.Qty)
	assert.Equal(t, protocol.CancelReasonRequested, exec.Cancel.Reason)
	assert.Equal(t, ack.VenueOrderID, exec.Cancel.VenueOrderID)
	assert.Nil(t, m.Book().Lookup("b1"))

	cancel.CommandID = "cx-2"
	again := m.OnCancel(cancel)
	assert.True(t, again.IsNoop(), "unknown order is a no-op")
}

func TestMatcherOnReplace(t *testing.T) {
	replace := func(id, commandID string, qty protocol.Qty, price string) protocol.ReplaceChild {
		return protocol.ReplaceChild{
			CommandHeader: protocol.CommandHeader{CommandID: commandID, Instrument: testInstrument, ChildID: id},
			VenueOrderID:  "XNAS-1",
			Qty:           qty,
			Price:         px(price),
		}
	}

	t.Run("reprice loses priority", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		m.OnNew(limit("b1", protocol.SideBuy, "99", 10, protocol.TimeInForceDay))
		m.OnNew(limit("b2", protocol.SideBuy, "100", 10, protocol.TimeInForceDay))

		exec := m.OnReplace(replace("b1", "r1", 10, "100"))
		require.Len(t, exec.Acks, 1)
		assert.True(t, exec.Acks[0].Replaced)

		assert.Equal(t, "b2", m.Book().BestContra(protocol.SideSell).ChildID())
	})

	t.Run("replace that crosses fills", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		m.OnNew(limit("b1", protocol.SideBuy, "99", 10, protocol.TimeInForceDay))
		m.OnNew(limit("a1", protocol.SideSell, "100", 4, protocol.TimeInForceDay))

		exec := m.OnReplace(replace("b1", "r1", 10, "100"))
		taker := fillsFor(exec, "cl-b1")
		require.Len(t, taker, 1)
		assert.Equal(t, protocol.Qty(4), taker[0].Qty)
		assert.Equal(t, protocol.Qty(6), m.Book().Lookup("b1").Leaves())
	})

	t.Run("replace keeps filled quantity", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		m.OnNew(limit("b1", protocol.SideBuy, "100", 10, protocol.TimeInForceDay))
		m.OnNew(limit("s1", protocol.SideSell, "100", 4, protocol.TimeInForceIOC))

		exec := m.OnReplace(replace("b1", "r1", 8, "100"))
		require.Len(t, exec.Acks, 1)
		assert.Equal(t, protocol.Qty(4), m.Book().Lookup("b1").Leaves())

		exec = m.OnReplace(replace("b1", "r2", 4, "100"))
		require.NotNil(t, exec.Reject)
		assert.Equal(t, protocol.CancelRejectInvalidRequest, exec.Reject.CancelReject)
	})

	t.Run("unknown order is too late", func(t *testing.T) {
		m := NewMatcher("XNAS", testInstrument)
		exec := m.OnReplace(replace("gone", "r1", 10, "100"))
		require.NotNil(t, exec.Reject)
		assert.Equal(t, protocol.RequestReplace, exec.Reject.Request)
		assert.Equal(t, protocol.CancelRejectTooLate, exec.Reject.CancelReject)
		assert.Equal(t, "XNAS-1", exec.Reject.VenueOrderID)
	})
}

func TestQuantityConservation(t *testing.T) {
	m := NewMatcher("XNAS", testInstrument)
	orders := []protocol.NewChild{
		limit("a1", protocol.SideSell, "100", 30, protocol.TimeInForceDay),
		limit("a2", protocol.SideSell, "100.5", 20, protocol.TimeInForceDay),
		limit("b1", protocol.SideBuy, "100.5", 35, protocol.TimeInForceDay),
		market("b2", protocol.SideBuy, 50, protocol.TimeInForceIOC),
		limit("s1", protocol.SideSell, "99", 10, protocol.TimeInForceGTC),
	}

	filled := map[string]protocol.Qty{}
	canceled := map[string]protocol.Qty{}
	qty := map[string]protocol.Qty{}
	for _, o := range orders {
		qty[o.ClOrdID] = o.Qty
		exec := m.OnNew(o)
		for _, f := range exec.Fills {
			filled[f.ClOrdID] += f.Qty
			assert.Equal(t, qty[f.ClOrdID], filled[f.ClOrdID]+f.Leaves, f.ClOrdID)
		}
		if exec.Cancel != nil {
			canceled[exec.Cancel.ClOrdID] += exec.Cancel.Qty
		}
	}

	for _, o := range orders {
		var resting protocol.Qty
		if r := m.Book().Lookup(o.ChildID); r != nil {
			resting = r.Leaves()
		}
		assert.Equal(t, o.Qty, filled[o.ClOrdID]+canceled[o.ClOrdID]+resting, o.ClOrdID)
	}
}

func TestMatcherWithNBBO(t *testing.T) {
	cache := marketdata.NewCache()
	cache.Update(marketdata.Quote(px("100"), px("100.01"), 1))
	m := NewMatcher("XNAS", testInstrument, WithNBBO(cache), WithStrategies(DefaultChain()...))

	exec := m.Execute(market("b1", protocol.SideBuy, 1000, protocol.TimeInForceDay))
	require.Len(t, exec.Acks, 1)
	require.Len(t, exec.Fills, 1)
	assert.Equal(t, protocol.Qty(1000), exec.Fills[0].Qty)
	assert.Equal(t, px("100.01"), exec.Fills[0].Price)
	assert.Nil(t, m.Book().Lookup("b1"))
}
