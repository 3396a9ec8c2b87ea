package snapshot

import (
	"sync/atomic"

	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
)

// View is an immutable top-of-book picture. Never mutate one after
// publishing it.
type View struct {
	Symbol  string
	Seq     uint64
	Time    int64
	Depth   orderbook.Depth
	Resting int
}

func NewView(book *orderbook.OrderBook, seq uint64, now int64, levels int) *View {
	return &View{
		Symbol:  book.Symbol,
		Seq:     seq,
		Time:    now,
		Depth:   book.Depth(levels),
		Resting: book.Len(),
	}
}

func (v *View) BestBid() (orderbook.Quote, bool) {
	if v == nil || len(v.Depth.Bids) == 0 {
		return orderbook.Quote{}, false
	}
	return v.Depth.Bids[0], true
}

func (v *View) BestAsk() (orderbook.Quote, bool) {
	if v == nil || len(v.Depth.Asks) == 0 {
		return orderbook.Quote{}, false
	}
	return v.Depth.Asks[0], true
}

// Publisher holds the latest View of one book. One writer, many readers.
type Publisher struct {
	cur atomic.Pointer[View]
}

func (p *Publisher) Publish(v *View) {
	p.cur.Store(v)
}

// Load returns nil before the first Publish.
func (p *Publisher) Load() *View {
	return p.cur.Load()
}
