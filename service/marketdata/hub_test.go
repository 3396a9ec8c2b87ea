package marketdata

import (
	"testing"

	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDropsForSlowSubscriber(t *testing.T) {
	h := NewHub[int]()
	fast := h.Subscribe(8, nil)
	slow := h.Subscribe(1, nil)
	even := h.Subscribe(8, func(v int) bool { return v%2 == 0 })

	for i := 0; i < 4; i++ {
		h.Broadcast(i)
	}
	assert.Len(t, fast.C(), 4)
	assert.Len(t, slow.C(), 1)
	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Len(t, even.C(), 2)

	h.Unsubscribe(slow)
	h.Unsubscribe(slow)
	assert.Equal(t, 2, h.Len())

	h.Close()
	_, open := <-even.C()
	assert.True(t, open, "buffered values drain before close is seen")
	assert.Zero(t, h.Len())
}

func TestFeedFiltersBySymbol(t *testing.T) {
	f := NewFeed()
	eur := f.SubscribeSymbol("EURUSD", 4)
	all := f.SubscribeSymbol("", 4)

	delta := matching.Result{Deltas: []matching.BookDelta{{Symbol: "EURUSD", Price: 1, Qty: 1}}}
	f.Publish("EURUSD", 1, delta)
	f.Publish("GBPUSD", 1, matching.Result{Deltas: []matching.BookDelta{{Symbol: "GBPUSD"}}})
	f.Publish("EURUSD", 2, matching.Result{})

	require.Len(t, eur.C(), 1)
	assert.Len(t, all.C(), 2)
	u := <-eur.C()
	assert.Equal(t, uint64(1), u.Seq)
}
