package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/infra/venue"
	"github.com/Rizwan-Beg/fxharry/service/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu          sync.Mutex
	fills       []matching.Fill
	transitions []events.Transition
}

func (r *recorder) PublishFill(_ context.Context, f matching.Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, f)
	return nil
}

func (r *recorder) PublishTransition(_ context.Context, t events.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	return nil
}

func (r *recorder) fillCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fills)
}

func start(t *testing.T, cfg Config, opts ...Option) *Executor {
	t.Helper()
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	e.Start()
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func wait(t *testing.T, h *OrderHandle) orderbook.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// h.Wait also returns the order's own error, which may be a deadline
	st, _ := h.Wait(ctx)
	require.NoError(t, ctx.Err(), "order %d stuck at %s", h.ID, st)
	return st
}

func waitStatus(t *testing.T, h *OrderHandle, want orderbook.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Status() == want },
		2*time.Second, time.Millisecond, "order %d stuck at %s", h.ID, h.Status())
}

func TestExecuteOrderMatches(t *testing.T) {
	rec := &recorder{}
	e := start(t, Config{Shards: 2}, WithSink(rec))
	ctx := context.Background()

	sell, err := e.ExecuteOrder(ctx, "EURUSD", 10, 100, orderbook.Sell, orderbook.Limit)
	require.NoError(t, err)
	waitStatus(t, sell, orderbook.Acknowledged)

	buy, err := e.ExecuteOrder(ctx, "EURUSD", 10, 60, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Filled, wait(t, buy))
	assert.Equal(t, int64(60), buy.Filled())

	waitStatus(t, sell, orderbook.PartiallyFilled)
	assert.Equal(t, int64(40), sell.Remaining())
	assert.Equal(t, 1, rec.fillCount())

	v := e.Book("EURUSD")
	require.NotNil(t, v)
	ask, ok := v.BestAsk()
	require.True(t, ok)
	assert.Equal(t, orderbook.Quote{Price: 10, Qty: 40}, ask)
}

func TestUpdatesCarryEveryTransition(t *testing.T) {
	e := start(t, Config{})
	ctx := context.Background()

	_, err := e.ExecuteOrder(ctx, "GBPUSD", 20, 5, orderbook.Sell, orderbook.Limit)
	require.NoError(t, err)
	buy, err := e.ExecuteOrder(ctx, "GBPUSD", 0, 8, orderbook.Buy, orderbook.Market)
	require.NoError(t, err)
	wait(t, buy)

	var path []orderbook.Status
	for tr := range buy.Updates() {
		path = append(path, tr.To)
	}
	assert.Equal(t, []orderbook.Status{
		orderbook.Acknowledged, orderbook.PartiallyFilled, orderbook.Cancelled,
	}, path)
	assert.Equal(t, int64(5), buy.Filled())
}

func TestValidationIsSynchronous(t *testing.T) {
	e := start(t, Config{})
	ctx := context.Background()

	cases := []Request{
		{Symbol: "", Side: orderbook.Buy, Type: orderbook.Limit, Price: 1, Qty: 1},
		{Symbol: "X", Side: orderbook.Buy, Type: orderbook.Limit, Price: 0, Qty: 1},
		{Symbol: "X", Side: orderbook.Buy, Type: orderbook.Limit, Price: 1, Qty: 0},
		{Symbol: "X", Side: orderbook.Buy, Type: orderbook.Cancel, Price: 1, Qty: 1},
	}
	for _, r := range cases {
		h, err := e.Submit(ctx, r)
		assert.Nil(t, h)
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err), "%+v", r)
	}
}

func TestMarketOrderOnEmptyBook(t *testing.T) {
	e := start(t, Config{})
	h, err := e.ExecuteOrder(context.Background(), "USDJPY", 0, 1, orderbook.Buy, orderbook.Market)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Rejected, wait(t, h))
	assert.ErrorIs(t, h.Err(), errs.ErrNoLiquidity)
}

func TestCancelRestingOrder(t *testing.T) {
	e := start(t, Config{})
	ctx := context.Background()

	h, err := e.ExecuteOrder(ctx, "EURUSD", 10, 5, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	waitStatus(t, h, orderbook.Acknowledged)

	ticket, err := e.CancelOrder(ctx, h.ID)
	require.NoError(t, err)
	require.NoError(t, ticket.Wait(ctx))
	assert.Equal(t, orderbook.Cancelled, wait(t, h))

	_, err = e.CancelOrder(ctx, h.ID)
	assert.ErrorIs(t, err, errs.ErrOrderAlreadyTerminal)

	_, err = e.CancelOrder(ctx, 999_999)
	assert.ErrorIs(t, err, errs.ErrOrderNotFound)

	_, ok := e.Book("EURUSD").BestBid()
	assert.False(t, ok)
}

func TestCancelAfterFill(t *testing.T) {
	e := start(t, Config{})
	ctx := context.Background()

	sell, err := e.ExecuteOrder(ctx, "EURUSD", 10, 5, orderbook.Sell, orderbook.Limit)
	require.NoError(t, err)
	buy, err := e.ExecuteOrder(ctx, "EURUSD", 10, 5, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	require.Equal(t, orderbook.Filled, wait(t, buy))
	require.Equal(t, orderbook.Filled, wait(t, sell))

	_, err = e.CancelOrder(ctx, sell.ID)
	assert.Equal(t, errs.KindOrderAlreadyTerminal, errs.KindOf(err))
}

func TestCancelIntentBeatsQueuedFill(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	ctx := context.Background()

	// both requests are queued before the worker runs
	sell, err := e.ExecuteOrder(ctx, "EURUSD", 10, 5, orderbook.Sell, orderbook.Limit)
	require.NoError(t, err)
	ticket, err := e.CancelOrder(ctx, sell.ID)
	require.NoError(t, err)
	buy, err := e.ExecuteOrder(ctx, "EURUSD", 10, 5, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	e.Start()

	require.NoError(t, ticket.Wait(ctx))
	assert.Equal(t, orderbook.Cancelled, wait(t, sell))
	waitStatus(t, buy, orderbook.Acknowledged)
	assert.Zero(t, buy.Filled())
}

func TestRiskLimitRejects(t *testing.T) {
	e := start(t, Config{Risk: RiskLimits{MaxOrderQty: 10, MaxNotional: 500}})
	ctx := context.Background()

	h, err := e.ExecuteOrder(ctx, "EURUSD", 10, 11, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Rejected, wait(t, h))
	assert.ErrorIs(t, h.Err(), errs.ErrRiskLimit)

	h, err = e.ExecuteOrder(ctx, "EURUSD", 100, 6, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Rejected, wait(t, h))

	h, err = e.ExecuteOrder(ctx, "EURUSD", 100, 5, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	waitStatus(t, h, orderbook.Acknowledged)
}

func TestQueueFull(t *testing.T) {
	e, err := New(Config{QueueSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	ctx := context.Background()

	var hs []*OrderHandle
	for i := 0; i < 2; i++ {
		h, err := e.ExecuteOrder(ctx, "EURUSD", 10, 1, orderbook.Buy, orderbook.Limit)
		require.NoError(t, err)
		hs = append(hs, h)
	}
	_, err = e.ExecuteOrder(ctx, "EURUSD", 10, 1, orderbook.Buy, orderbook.Limit)
	assert.ErrorIs(t, err, errs.ErrQueueFull)

	e.Start()
	for _, h := range hs {
		waitStatus(t, h, orderbook.Acknowledged)
	}
}

func TestQueueSizeMustBePowerOfTwo(t *testing.T) {
	_, err := New(Config{QueueSize: 3})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestCloseRejectsQueued(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	h, err := e.ExecuteOrder(context.Background(), "EURUSD", 10, 1, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.Equal(t, orderbook.Rejected, wait(t, h))
	assert.ErrorIs(t, h.Err(), errs.ErrShutdown)

	_, err = e.ExecuteOrder(context.Background(), "EURUSD", 10, 1, orderbook.Buy, orderbook.Limit)
	assert.ErrorIs(t, err, errs.ErrShutdown)
}

func TestFeedReceivesDeltas(t *testing.T) {
	feed := marketdata.NewFeed()
	sub := feed.SubscribeSymbol("EURUSD", 16)
	e := start(t, Config{}, WithFeed(feed))

	_, err := e.ExecuteOrder(context.Background(), "EURUSD", 10, 3, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)

	select {
	case u := <-sub.C():
		require.Len(t, u.Deltas, 1)
		assert.Equal(t, int64(3), u.Deltas[0].Qty)
	case <-time.After(2 * time.Second):
		t.Fatal("no feed update")
	}
}

func TestCaptureAndRestore(t *testing.T) {
	e := start(t, Config{})
	ctx := context.Background()
	h, err := e.ExecuteOrder(ctx, "EURUSD", 10, 3, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	waitStatus(t, h, orderbook.Acknowledged)

	snap, err := e.Capture(ctx, "EURUSD")
	require.NoError(t, err)
	require.Len(t, snap.Orders, 1)

	e2, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, e2.Restore(snap))
	e2.Start()
	t.Cleanup(func() { _ = e2.Close() })

	bid, ok := e2.Book("EURUSD").BestBid()
	require.True(t, ok)
	assert.Equal(t, orderbook.Quote{Price: 10, Qty: 3}, bid)

	ticket, err := e2.CancelOrder(ctx, h.ID)
	require.NoError(t, err)
	require.NoError(t, ticket.Wait(ctx))

	next, err := e2.ExecuteOrder(ctx, "EURUSD", 11, 1, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	assert.Greater(t, next.ID, h.ID)
}

type stubVenue struct {
	mu     sync.Mutex
	accept bool
	block  bool
	// stall sleeps without looking at the context
	stall   time.Duration
	cancels int
}

func (v *stubVenue) Submit(ctx context.Context, o orderbook.Order) (venue.Ack, error) {
	v.mu.Lock()
	accept, block, stall := v.accept, v.block, v.stall
	v.mu.Unlock()
	if block {
		<-ctx.Done()
		return venue.Ack{}, ctx.Err()
	}
	if stall > 0 {
		time.Sleep(stall)
		return venue.Ack{OrderID: o.ID, Accepted: true}, nil
	}
	return venue.Ack{OrderID: o.ID, Accepted: accept, Reason: "closed"}, nil
}

func (v *stubVenue) Cancel(_ context.Context, id uint64) (venue.Ack, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels++
	return venue.Ack{OrderID: id, Accepted: true}, nil
}

func TestLiveRouteRequiresVenue(t *testing.T) {
	_, err := New(Config{Route: RouteLive})
	assert.Error(t, err)
}

func TestLiveTimeoutRejects(t *testing.T) {
	v := &stubVenue{block: true}
	e := start(t, Config{Route: RouteLive, VenueTimeout: 20 * time.Millisecond}, WithVenue(v))

	h, err := e.ExecuteOrder(context.Background(), "EURUSD", 10, 1, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Rejected, wait(t, h))
	assert.Equal(t, errs.KindVenueTimeout, errs.KindOf(h.Err()))
}

func TestLiveTimeoutWhenVenueIgnoresContext(t *testing.T) {
	v := &stubVenue{stall: 300 * time.Millisecond}
	e := start(t, Config{Route: RouteLive, VenueTimeout: 20 * time.Millisecond}, WithVenue(v))

	h, err := e.ExecuteOrder(context.Background(), "EURUSD", 10, 1, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	st, _ := h.Wait(ctx)
	require.NoError(t, ctx.Err(), "no answer before the venue returned")
	assert.Equal(t, orderbook.Rejected, st)
	assert.Equal(t, errs.KindVenueTimeout, errs.KindOf(h.Err()))

	// the late acceptance must not revive the order
	time.Sleep(350 * time.Millisecond)
	assert.Equal(t, orderbook.Rejected, h.Status())
}

func TestLiveVenueRejects(t *testing.T) {
	e := start(t, Config{Route: RouteLive}, WithVenue(&stubVenue{}))
	h, err := e.ExecuteOrder(context.Background(), "EURUSD", 10, 1, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Rejected, wait(t, h))
	assert.ErrorIs(t, h.Err(), errs.ErrVenueRejected)
}

func TestLiveExecutions(t *testing.T) {
	rec := &recorder{}
	e := start(t, Config{Route: RouteLive}, WithVenue(&stubVenue{accept: true}), WithSink(rec))

	h, err := e.ExecuteOrder(context.Background(), "EURUSD", 10, 5, orderbook.Sell, orderbook.Limit)
	require.NoError(t, err)
	waitStatus(t, h, orderbook.Acknowledged)

	require.NoError(t, e.ReportExecution(venue.Execution{OrderID: h.ID, Price: 10, Qty: 2}))
	waitStatus(t, h, orderbook.PartiallyFilled)
	require.NoError(t, e.ReportExecution(venue.Execution{OrderID: h.ID, Price: 11, Qty: 9}))
	assert.Equal(t, orderbook.Filled, wait(t, h))
	assert.Equal(t, int64(5), h.Filled())
	assert.Equal(t, 2, rec.fillCount())

	err = e.ReportExecution(venue.Execution{OrderID: 12345, Qty: 1})
	assert.ErrorIs(t, err, errs.ErrOrderNotFound)
}

func TestLiveCancel(t *testing.T) {
	v := &stubVenue{accept: true}
	e := start(t, Config{Route: RouteLive}, WithVenue(v))
	ctx := context.Background()

	h, err := e.ExecuteOrder(ctx, "EURUSD", 10, 5, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	waitStatus(t, h, orderbook.Acknowledged)

	ticket, err := e.CancelOrder(ctx, h.ID)
	require.NoError(t, err)
	require.NoError(t, ticket.Wait(ctx))
	assert.Equal(t, orderbook.Cancelled, wait(t, h))

	v.mu.Lock()
	defer v.mu.Unlock()
	assert.Equal(t, 1, v.cancels)
}

func TestParseRoute(t *testing.T) {
	r, err := ParseRoute("live")
	require.NoError(t, err)
	assert.Equal(t, RouteLive, r)
	_, err = ParseRoute("paper")
	assert.Error(t, err)
}

func BenchmarkExecuteOrder(b *testing.B) {
	e, err := New(Config{QueueSize: 1 << 16})
	require.NoError(b, err)
	e.Start()
	defer e.Close()
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := orderbook.Buy
		if i%2 == 1 {
			side = orderbook.Sell
		}
		h, err := e.ExecuteOrder(ctx, "EURUSD", 100, 1, side, orderbook.Limit)
		if err != nil {
			b.Fatal(err)
		}
		if i%2 == 1 {
			<-h.Done()
		}
	}
}

type blockingSink struct {
	release chan struct{}
	got     chan events.Transition
}

func (s *blockingSink) PublishFill(context.Context, matching.Fill) error { return nil }

func (s *blockingSink) PublishTransition(_ context.Context, t events.Transition) error {
	<-s.release
	s.got <- t
	return nil
}

func TestRiskRejectDoesNotWaitForSink(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan events.Transition, 4)}
	e := start(t, Config{Risk: RiskLimits{MaxOrderQty: 5}}, WithSink(sink))
	unblock := sync.OnceFunc(func() { close(sink.release) })
	t.Cleanup(unblock)

	done := make(chan *OrderHandle, 1)
	go func() {
		h, err := e.ExecuteOrder(context.Background(), "EURUSD", 10, 10, orderbook.Buy, orderbook.Limit)
		assert.NoError(t, err)
		done <- h
	}()

	var h *OrderHandle
	select {
	case h = <-done:
	case <-time.After(time.Second):
		t.Fatal("submit blocked on the sink")
	}
	assert.Equal(t, orderbook.Rejected, h.Status())
	assert.ErrorIs(t, h.Err(), errs.ErrRiskLimit)

	unblock()
	select {
	case tr := <-sink.got:
		assert.Equal(t, h.ID, tr.OrderID)
		assert.Equal(t, orderbook.Rejected, tr.To)
	case <-time.After(2 * time.Second):
		t.Fatal("rejection never reached the sink")
	}
}

func TestForgetClearsEngineState(t *testing.T) {
	e := start(t, Config{})
	ctx := context.Background()

	sell, err := e.ExecuteOrder(ctx, "EURUSD", 10, 5, orderbook.Sell, orderbook.Limit)
	require.NoError(t, err)
	buy, err := e.ExecuteOrder(ctx, "EURUSD", 10, 5, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	require.Equal(t, orderbook.Filled, wait(t, buy))
	require.Equal(t, orderbook.Filled, wait(t, sell))

	require.NoError(t, e.Forget(sell.ID))
	require.NoError(t, e.Forget(buy.ID))
	_, err = e.CancelOrder(ctx, sell.ID)
	assert.ErrorIs(t, err, errs.ErrOrderNotFound)

	// Close drains the forget requests still in the ring
	require.NoError(t, e.Close())
	eng := e.shardFor("EURUSD").books["EURUSD"].engine
	for _, id := range []uint64{sell.ID, buy.ID} {
		_, ok := eng.Status(id)
		assert.False(t, ok, "engine still remembers %d", id)
	}
}

func TestForgetLeavesWorkingOrders(t *testing.T) {
	e := start(t, Config{})
	ctx := context.Background()
	h, err := e.ExecuteOrder(ctx, "EURUSD", 10, 5, orderbook.Sell, orderbook.Limit)
	require.NoError(t, err)
	waitStatus(t, h, orderbook.Acknowledged)

	require.NoError(t, e.Forget(h.ID))
	_, ok := e.Handle(h.ID)
	assert.True(t, ok)
}

func TestRetainTerminalBound(t *testing.T) {
	e := start(t, Config{Shards: 1, RetainTerminal: 2})
	ctx := context.Background()

	var ids []uint64
	for i := 0; i < 3; i++ {
		sell, err := e.ExecuteOrder(ctx, "EURUSD", 10, 1, orderbook.Sell, orderbook.Limit)
		require.NoError(t, err)
		buy, err := e.ExecuteOrder(ctx, "EURUSD", 10, 1, orderbook.Buy, orderbook.Limit)
		require.NoError(t, err)
		require.Equal(t, orderbook.Filled, wait(t, buy))
		require.Equal(t, orderbook.Filled, wait(t, sell))
		ids = append(ids, sell.ID, buy.ID)
	}
	require.NoError(t, e.Close())

	eng := e.shardFor("EURUSD").books["EURUSD"].engine
	for i, id := range ids {
		_, handled := e.Handle(id)
		_, known := eng.Status(id)
		kept := i >= len(ids)-2
		assert.Equal(t, kept, handled, "handle %d", id)
		assert.Equal(t, kept, known, "engine state %d", id)
	}
	assert.Len(t, e.shardFor("EURUSD").retired, 2)
}

func TestCancelAfterMarketRemainderDropped(t *testing.T) {
	e, err := New(Config{Shards: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	ctx := context.Background()
	s := e.shardFor("EURUSD")

	_, err = e.ExecuteOrder(ctx, "EURUSD", 10, 2, orderbook.Sell, orderbook.Limit)
	require.NoError(t, err)
	buy, err := e.ExecuteOrder(ctx, "EURUSD", 0, 5, orderbook.Buy, orderbook.Market)
	require.NoError(t, err)
	s.drain()
	require.Equal(t, orderbook.Cancelled, buy.Status())
	require.Equal(t, int64(2), buy.Filled())

	// a cancel read the order as working just before the pass ended it
	ticket := newTicket(buy.ID)
	s.cancel(buy, ticket)
	assert.ErrorIs(t, ticket.Wait(ctx), errs.ErrOrderAlreadyTerminal)

	rest, err := e.ExecuteOrder(ctx, "EURUSD", 9, 1, orderbook.Buy, orderbook.Limit)
	require.NoError(t, err)
	s.drain()
	first, err := e.CancelOrder(ctx, rest.ID)
	require.NoError(t, err)
	s.drain()
	require.NoError(t, first.Wait(ctx))
	assert.Equal(t, orderbook.Cancelled, rest.Status())

	again := newTicket(rest.ID)
	s.cancel(rest, again)
	assert.ErrorIs(t, again.Wait(ctx), errs.ErrOrderAlreadyTerminal)
}

func TestCancelQueuedBehindSubmitSucceeds(t *testing.T) {
	e, err := New(Config{Shards: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	ctx := context.Background()
	s := e.shardFor("EURUSD")

	_, err = e.ExecuteOrder(ctx, "EURUSD", 10, 2, orderbook.Sell, orderbook.Limit)
	require.NoError(t, err)
	buy, err := e.ExecuteOrder(ctx, "EURUSD", 0, 5, orderbook.Buy, orderbook.Market)
	require.NoError(t, err)
	ticket, err := e.CancelOrder(ctx, buy.ID)
	require.NoError(t, err)
	s.drain()

	require.NoError(t, ticket.Wait(ctx))
	assert.Equal(t, orderbook.Cancelled, buy.Status())
	assert.Zero(t, buy.Filled())
}
