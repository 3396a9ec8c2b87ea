package simulator

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/market"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/infra/journal"
	"github.com/Rizwan-Beg/fxharry/service/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(sym string, at, price int64) Event {
	return TickEvent(market.Tick{Symbol: sym, Price: price, Time: at})
}

func buy(id uint64, typ orderbook.OrderType, price, qty int64) *orderbook.Order {
	return &orderbook.Order{ID: id, Symbol: "X", Side: orderbook.Buy, Type: typ, Price: price, Qty: qty}
}

func TestLatencyDelaysVisibility(t *testing.T) {
	var buf bytes.Buffer
	log := journal.NewStreamFillLog(&buf)
	sim := New(Config{Latency: market.FixedLatency(100), HalfSpread: 2, QuoteQty: 5}, WithFillLog(log))

	o := buy(1, orderbook.Market, 0, 3)
	rep, err := sim.Run(context.Background(), NewSliceSource(
		tick("X", 100, 1000),
		OrderEvent(150, o),
		tick("X", 200, 1000),
		tick("X", 300, 1010),
	))
	require.NoError(t, err)
	assert.Equal(t, Completed, rep.State)
	assert.Equal(t, 4, rep.Events)
	assert.NotEmpty(t, rep.RunID)

	fills, err := journal.ReadFills(&buf)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, int64(1012), fills[0].Price, "matched against the quote of the tick at which it became visible")
	assert.Equal(t, int64(300), fills[0].Time)
	assert.Equal(t, int64(3), fills[0].Qty)
	assert.Equal(t, orderbook.Filled, o.Status)

	st := rep.Symbols["X"]
	assert.Equal(t, int64(3), st.Volume)
	assert.Equal(t, "1012", st.VWAP().String())
}

func TestQuotesReplacedAndRestingOrderFilled(t *testing.T) {
	feed := marketdata.NewFeed()
	sub := feed.SubscribeSymbol("X", 64)
	sim := New(Config{HalfSpread: 2, QuoteQty: 5}, WithFeed(feed))

	o := buy(7, orderbook.Limit, 1000, 2)
	rep, err := sim.Run(context.Background(), NewSliceSource(
		tick("X", 100, 1000),
		OrderEvent(110, o),
		tick("X", 120, 995),
	))
	require.NoError(t, err)
	assert.Equal(t, orderbook.Filled, o.Status)
	assert.Equal(t, 1, rep.Fills)

	b := sim.Book("X")
	bid, ok := b.BestBid()
	require.True(t, ok)
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(993), bid.Price)
	assert.Equal(t, orderbook.Quote{Price: 997, Qty: 3}, ask)
	assert.False(t, b.Crossed())
	assert.NotZero(t, len(sub.C()))
}

func TestExplicitQuotesAndCrossedTick(t *testing.T) {
	sim := New(Config{})
	err := sim.UpdateOrderBook(market.Tick{
		Symbol: "X",
		Bids:   []orderbook.Quote{{Price: 101, Qty: 2}, {Price: 99, Qty: 4}},
		Asks:   []orderbook.Quote{{Price: 100, Qty: 1}, {Price: 102, Qty: 3}},
	})
	require.NoError(t, err)

	b := sim.Book("X")
	assert.False(t, b.Crossed())
	bid, _ := b.BestBid()
	assert.Equal(t, orderbook.Quote{Price: 101, Qty: 1}, bid)
	assert.Zero(t, sim.report.Fills, "quote-vs-quote fills are not logged")
}

func TestNonMonotonicAbortsAndFlushes(t *testing.T) {
	var buf bytes.Buffer
	sim := New(Config{HalfSpread: 1, QuoteQty: 10}, WithFillLog(journal.NewStreamFillLog(&buf)))

	rep, err := sim.Run(context.Background(), NewSliceSource(
		tick("X", 100, 500),
		OrderEvent(150, buy(1, orderbook.Market, 0, 4)),
		tick("X", 120, 500),
		tick("X", 200, 500),
	))
	require.Error(t, err)
	assert.Equal(t, errs.KindNonMonotonicEvent, errs.KindOf(err))
	assert.Equal(t, Aborted, rep.State)
	assert.Equal(t, Aborted, sim.State())
	assert.Equal(t, 2, rep.Events)

	fills, err := journal.ReadFills(&buf)
	require.NoError(t, err)
	assert.Len(t, fills, 1, "partial fill log is flushed on abort")

	_, err = sim.Run(context.Background(), NewSliceSource())
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestMarketOrderAgainstEmptySideIsRejected(t *testing.T) {
	sim := New(Config{})
	o := &orderbook.Order{ID: 1, Symbol: "X", Side: orderbook.Sell, Type: orderbook.Market, Qty: 5}
	rep, err := sim.Run(context.Background(), NewSliceSource(OrderEvent(10, o)))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rejected)
	assert.Zero(t, rep.Fills)
	assert.Equal(t, orderbook.Rejected, o.Status)
	assert.Zero(t, sim.Book("X").Len())
}

func TestCancelPendingAndResting(t *testing.T) {
	sim := New(Config{Latency: market.FixedLatency(50)})
	require.NoError(t, sim.SubmitOrder(buy(1, orderbook.Limit, 90, 1)))
	require.NoError(t, sim.SubmitOrder(buy(2, orderbook.Limit, 90, 1)))

	require.NoError(t, sim.CancelOrder(1))
	s, ok := sim.Status(1)
	require.True(t, ok)
	assert.Equal(t, orderbook.Cancelled, s)

	require.NoError(t, sim.SimulateTick(market.Tick{Symbol: "X", Price: 100, Time: 60}))
	s, _ = sim.Status(2)
	assert.Equal(t, orderbook.Acknowledged, s)
	require.NoError(t, sim.CancelOrder(2))
	assert.ErrorIs(t, sim.CancelOrder(2), errs.ErrOrderAlreadyTerminal)
	assert.ErrorIs(t, sim.CancelOrder(3), errs.ErrOrderNotFound)

	assert.ErrorIs(t, sim.SubmitOrder(buy(2, orderbook.Limit, 90, 1)), errs.ErrDuplicateOrder)
	assert.ErrorIs(t, sim.SubmitOrder(buy(4, orderbook.Limit, 0, 1)), errs.ErrInvalidArgument)
}

func TestSimulateTickTouchesOnlyItsSymbol(t *testing.T) {
	sim := New(Config{Latency: market.FixedLatency(10)})
	o := &orderbook.Order{ID: 1, Symbol: "GBPUSD", Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, Qty: 5}
	require.NoError(t, sim.SubmitOrder(o))

	require.NoError(t, sim.SimulateTick(market.Tick{Symbol: "EURUSD", Price: 120, Time: 20}))
	_, ok := sim.Book("GBPUSD").BestBid()
	assert.False(t, ok, "GBPUSD book changed by an EURUSD tick")
	st, _ := sim.Status(1)
	assert.Equal(t, orderbook.Submitted, st)

	require.NoError(t, sim.SimulateTick(market.Tick{Symbol: "GBPUSD", Price: 100, Time: 21}))
	bid, ok := sim.Book("GBPUSD").BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(100), bid.Price)
}

func TestRunReleasesOtherSymbols(t *testing.T) {
	sim := New(Config{Latency: market.FixedLatency(10)})
	o := &orderbook.Order{ID: 1, Symbol: "GBPUSD", Side: orderbook.Buy, Type: orderbook.Limit, Price: 100, Qty: 5}
	rep, err := sim.Run(context.Background(), NewSliceSource(
		OrderEvent(0, o),
		tick("EURUSD", 20, 120),
	))
	require.NoError(t, err)
	assert.Zero(t, rep.Unreleased)
	st, _ := sim.Status(1)
	assert.Equal(t, orderbook.Acknowledged, st)
}

func TestCaptureRestore(t *testing.T) {
	sim := New(Config{HalfSpread: 3, QuoteQty: 2})
	require.NoError(t, sim.SimulateTick(market.Tick{Symbol: "X", Price: 100, Time: 1}))
	require.NoError(t, sim.SubmitOrder(buy(1, orderbook.Limit, 98, 4)))
	require.NoError(t, sim.SimulateTick(market.Tick{Symbol: "X", Price: 100, Time: 2}))

	snap, ok := sim.Capture("X")
	require.True(t, ok)

	other := New(Config{HalfSpread: 3, QuoteQty: 2})
	require.NoError(t, other.Restore(snap))
	assert.Equal(t, sim.Book("X").Depth(0), other.Book("X").Depth(0))

	require.NoError(t, other.SimulateTick(market.Tick{Symbol: "X", Price: 100, Time: 3}))
	assert.Equal(t, sim.Book("X").Depth(0), other.Book("X").Depth(0), "restored quotes are withdrawn like live ones")
}

func randomRun(seed uint64) []Event {
	r := rand.New(rand.NewPCG(seed, seed^0xdecafbad))
	var (
		events []Event
		now    int64
		price  int64 = 10_000
		id     uint64
	)
	for i := 0; i < 400; i++ {
		now += r.Int64N(50)
		if r.IntN(3) == 0 {
			id++
			o := &orderbook.Order{
				ID:     id,
				Symbol: []string{"EURUSD", "GBPUSD"}[r.IntN(2)],
				Side:   orderbook.Side(r.IntN(2)),
				Type:   orderbook.OrderType(r.IntN(2)),
				Price:  price + r.Int64N(21) - 10,
				Qty:    1 + r.Int64N(9),
			}
			events = append(events, OrderEvent(now, o))
			continue
		}
		price += r.Int64N(7) - 3
		sym := []string{"EURUSD", "GBPUSD"}[r.IntN(2)]
		events = append(events, TickEvent(market.Tick{Symbol: sym, Price: price, Time: now}))
	}
	return events
}

func runOnce(t *testing.T, seed uint64) []byte {
	var buf bytes.Buffer
	sim := New(Config{
		Latency:    market.JitterLatency{Base: 20, Jitter: 30, Seed: seed},
		Slippage:   market.RandomSlippage{MaxTicks: 2, Seed: seed},
		HalfSpread: 2,
		QuoteQty:   5,
	}, WithFillLog(journal.NewStreamFillLog(&buf)))

	rep, err := sim.Run(context.Background(), NewSliceSource(randomRun(seed)...))
	require.NoError(t, err)
	require.NotZero(t, rep.Fills)
	return buf.Bytes()
}

func TestReplayIsByteIdentical(t *testing.T) {
	first := runOnce(t, 42)
	second := runOnce(t, 42)
	assert.True(t, bytes.Equal(first, second), "fill logs differ between identical runs")
	assert.False(t, bytes.Equal(first, runOnce(t, 43)))
}
