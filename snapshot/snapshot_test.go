package snapshot

import (
	"testing"

	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/infra/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededBook(t *testing.T) *orderbook.OrderBook {
	b := orderbook.NewOrderBook("EURUSD")
	for _, o := range []*orderbook.Order{
		{ID: 1, Side: orderbook.Buy, Price: 99, Qty: 5},
		{ID: 2, Side: orderbook.Buy, Price: 99, Qty: 3, Filled: 1},
		{ID: 3, Side: orderbook.Sell, Price: 101, Qty: 7},
	} {
		require.NoError(t, b.AddOrder(o))
	}
	return b
}

func TestWriteLoadRestore(t *testing.T) {
	w := &Writer{Dir: t.TempDir()}
	src := seededBook(t)
	require.NoError(t, w.Write(Capture(src, 42, 1000)))

	s, ok, err := w.Load("EURUSD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(42), s.Seq)
	assert.Equal(t, uint64(3), s.MaxOrderID())

	pool := memory.NewPool(func(o *orderbook.Order) { o.Reset() })
	dst := orderbook.NewOrderBook("EURUSD")
	require.NoError(t, Restore(s, dst, pool.Get))

	assert.Equal(t, src.Depth(0), dst.Depth(0))
	assert.Equal(t, uint64(1), dst.BestLevel(orderbook.Buy).Head().ID)
	assert.Error(t, Restore(s, dst, pool.Get), "restore into non-empty book")
}

func TestSymbols(t *testing.T) {
	w := &Writer{Dir: t.TempDir()}
	syms, err := w.Symbols()
	require.NoError(t, err)
	assert.Empty(t, syms)

	require.NoError(t, w.Write(Snapshot{Symbol: "USDJPY"}))
	require.NoError(t, w.Write(Snapshot{Symbol: "EURUSD"}))
	syms, err = w.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD", "USDJPY"}, syms)
}

func TestLoadMissing(t *testing.T) {
	w := &Writer{Dir: t.TempDir()}
	_, ok, err := w.Load("NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublisher(t *testing.T) {
	var p Publisher
	assert.Nil(t, p.Load())
	_, ok := p.Load().BestBid()
	assert.False(t, ok)

	p.Publish(NewView(seededBook(t), 7, 100, 1))
	v := p.Load()
	bid, ok := v.BestBid()
	require.True(t, ok)
	assert.Equal(t, orderbook.Quote{Price: 99, Qty: 7}, bid)
	assert.Equal(t, 3, v.Resting)
}
