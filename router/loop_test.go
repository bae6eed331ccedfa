package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/0x5487/execution-engine/protocol"
	"github.com/0x5487/execution-engine/queue"
)

type fakeGateway struct {
	mu   sync.Mutex
	cmds []protocol.VenueCommand
	err  error
}

func (g *fakeGateway) Submit(cmd protocol.VenueCommand) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.cmds = append(g.cmds, cmd)
	return nil
}

func (g *fakeGateway) Commands() []protocol.VenueCommand {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]protocol.VenueCommand, len(g.cmds))
	copy(out, g.cmds)
	return out
}

type eventRecorder struct {
	mu  sync.Mutex
	evs []protocol.OrderEvent
}

func (r *eventRecorder) OnOrderEvent(ev protocol.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return nil
}

func (r *eventRecorder) Events() []protocol.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.OrderEvent, len(r.evs))
	copy(out, r.evs)
	return out
}

func startLoop(t *testing.T, gw Gateway, sink EventSink) *Loop {
	SetLogger(zaptest.NewLogger(t))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	l := NewLoop(newTestRouter(Policy{}), map[string]Gateway{"XNAS": gw}, sink, 64,
		queue.WithBackoff(queue.Backoff{Park: 10 * time.Microsecond}))
	go func() {
		_ = l.Start()
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l
}

func TestLoop(t *testing.T) {
	t.Run("routes intents to the venue and reports back", func(t *testing.T) {
		gw := &fakeGateway{}
		rec := &eventRecorder{}
		l := startLoop(t, gw, rec)

		require.NoError(t, l.Submit(routeNew("p1", 100)))
		assert.Eventually(t, func() bool { return len(gw.Commands()) == 1 }, time.Second, time.Millisecond)

		cmd := gw.Commands()[0].(protocol.NewChild)
		require.NoError(t, l.OnVenueReport(ackFor(cmd, "XNAS-1")))
		require.NoError(t, l.OnVenueReport(fillFor("XNAS-1", "E1", 100)))

		assert.Eventually(t, func() bool { return len(rec.Events()) == 2 }, time.Second, time.Millisecond)
		evs := rec.Events()
		assert.IsType(t, protocol.ChildAck{}, evs[0])
		assert.IsType(t, protocol.ChildFill{}, evs[1])
		assert.Eventually(t, l.Idle, time.Second, time.Millisecond)
	})

	t.Run("undeliverable new child is rejected locally", func(t *testing.T) {
		gw := &fakeGateway{err: errors.New("venue queue full")}
		rec := &eventRecorder{}
		l := startLoop(t, gw, rec)

		require.NoError(t, l.Submit(routeNew("p1", 100)))
		assert.Eventually(t, func() bool { return len(rec.Events()) == 1 }, time.Second, time.Millisecond)

		rej, ok := rec.Events()[0].(protocol.ChildRejected)
		require.True(t, ok)
		assert.Equal(t, protocol.RejectReasonThrottled, rej.Reason)
		assert.Equal(t, "p1", rej.ParentID)
	})
}

type ringSink struct {
	ring *queue.Ring[protocol.OrderEvent]
}

func (s ringSink) OnOrderEvent(ev protocol.OrderEvent) error {
	return s.ring.TryPublish(ev)
}

func TestLoopFullPipeline(t *testing.T) {
	gw := &fakeGateway{}
	pipeline := queue.NewRing[protocol.OrderEvent](2)
	l := startLoop(t, gw, ringSink{ring: pipeline})

	require.NoError(t, l.Submit(routeNew("p1", 100)))
	assert.Eventually(t, func() bool { return len(gw.Commands()) == 1 }, time.Second, time.Millisecond)

	cmd := gw.Commands()[0].(protocol.NewChild)
	require.NoError(t, l.OnVenueReport(ackFor(cmd, "XNAS-1")))
	require.NoError(t, l.OnVenueReport(fillFor("XNAS-1", "E1", 10)))
	require.NoError(t, l.OnVenueReport(fillFor("XNAS-1", "E2", 20)))
	require.NoError(t, l.OnVenueReport(fillFor("XNAS-1", "E3", 70)))

	assert.Eventually(t, func() bool { return l.Held() == 2 }, time.Second, time.Millisecond)
	assert.False(t, l.Idle())

	var got []protocol.OrderEvent
	assert.Eventually(t, func() bool {
		pipeline.Poll(func(ev protocol.OrderEvent) { got = append(got, ev) }, 1)
		return len(got) == 4
	}, time.Second, time.Millisecond)
	assert.Eventually(t, l.Idle, time.Second, time.Millisecond)

	require.IsType(t, protocol.ChildAck{}, got[0])
	var filled protocol.Qty
	for i, want := range []protocol.Qty{10, 20, 70} {
		f, ok := got[i+1].(protocol.ChildFill)
		require.True(t, ok)
		assert.Equal(t, want, f.LastQty)
		filled += f.LastQty
	}
	assert.Equal(t, protocol.Qty(100), filled)
	assert.Equal(t, protocol.Qty(0), got[3].(protocol.ChildFill).ChildLeaves)
}
