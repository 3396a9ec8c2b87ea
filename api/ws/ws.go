// Package ws streams market-data updates to websocket clients.
package ws

import (
	"net/http"
	"time"

	"github.com/Rizwan-Beg/fxharry/service/marketdata"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type deltaView struct {
	Side  string `json:"side"`
	Price int64  `json:"price"`
	Qty   int64  `json:"qty"`
}

type fillView struct {
	Side  string `json:"side"`
	Price int64  `json:"price"`
	Qty   int64  `json:"qty"`
	Time  int64  `json:"time"`
}

type updateView struct {
	Symbol string      `json:"symbol"`
	Seq    uint64      `json:"seq"`
	Deltas []deltaView `json:"deltas"`
	Fills  []fillView  `json:"fills,omitempty"`
}

// Handler upgrades each request and streams the updates of the symbol
// named by the "symbol" query parameter, or of every symbol when absent.
type Handler struct {
	feed     *marketdata.Feed
	upgrader websocket.Upgrader
	buffer   int
	log      *zap.Logger

	WriteTimeout time.Duration
}

func NewHandler(feed *marketdata.Feed, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		feed:         feed,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		buffer:       64,
		log:          log,
		WriteTimeout: 5 * time.Second,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.feed.SubscribeSymbol(r.URL.Query().Get("symbol"), h.buffer)
	defer h.feed.Unsubscribe(sub)

	// the reader only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case u, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
			if err := conn.WriteJSON(outboundMessage{Type: "book", Data: toView(u)}); err != nil {
				h.log.Debug("ws write", zap.Error(err))
				return
			}
		}
	}
}

func toView(u marketdata.Update) updateView {
	v := updateView{Symbol: u.Symbol, Seq: u.Seq, Deltas: make([]deltaView, 0, len(u.Deltas))}
	for _, d := range u.Deltas {
		v.Deltas = append(v.Deltas, deltaView{Side: d.Side.String(), Price: d.Price, Qty: d.Qty})
	}
	for _, f := range u.Fills {
		v.Fills = append(v.Fills, fillView{Side: f.Side.String(), Price: f.ExecPrice, Qty: f.Qty, Time: f.Time})
	}
	return v
}
