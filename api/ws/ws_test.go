package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/service/marketdata"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamsSymbolUpdates(t *testing.T) {
	feed := marketdata.NewFeed()
	srv := httptest.NewServer(NewHandler(feed, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?symbol=EURUSD"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return feed.Len() == 1 }, 2*time.Second, time.Millisecond)

	feed.Publish("GBPUSD", 1, matching.Result{Deltas: []matching.BookDelta{{Side: orderbook.Buy, Price: 1, Qty: 1}}})
	feed.Publish("EURUSD", 2, matching.Result{
		Deltas: []matching.BookDelta{{Side: orderbook.Sell, Price: 10, Qty: 4}},
		Fills:  []matching.Fill{{Side: orderbook.Buy, Price: 10, ExecPrice: 10, Qty: 1}},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type string     `json:"type"`
		Data updateView `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "book", msg.Type)
	assert.Equal(t, "EURUSD", msg.Data.Symbol)
	assert.Equal(t, uint64(2), msg.Data.Seq)
	require.Len(t, msg.Data.Deltas, 1)
	assert.Equal(t, deltaView{Side: "sell", Price: 10, Qty: 4}, msg.Data.Deltas[0])
	require.Len(t, msg.Data.Fills, 1)
}

func TestUnsubscribesOnDisconnect(t *testing.T) {
	feed := marketdata.NewFeed()
	srv := httptest.NewServer(NewHandler(feed, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return feed.Len() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return feed.Len() == 0 }, 2*time.Second, time.Millisecond)
}
