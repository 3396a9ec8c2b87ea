package orderbook

import (
	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/cockroachdb/errors"
)

// Quote is an aggregated view of one price level.
type Quote struct {
	Price int64
	Qty   int64
}

// Depth is the top of both sides, best price first.
type Depth struct {
	Bids []Quote
	Asks []Quote
}

// OrderBook holds the resting orders of one symbol. It is single-writer:
// exactly one goroutine may call its methods. It never matches; crossing
// is resolved by the matching engine before an order is added.
type OrderBook struct {
	Symbol string

	bids   *RBTree
	asks   *RBTree
	orders map[uint64]*Order
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   NewRBTree(),
		asks:   NewRBTree(),
		orders: make(map[uint64]*Order),
	}
}

func (b *OrderBook) side(s Side) *RBTree {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// AddOrder appends o to the tail of its price level.
func (b *OrderBook) AddOrder(o *Order) error {
	if o.Price <= 0 {
		return errors.Wrapf(errs.ErrInvalidPrice, "order %d price %d", o.ID, o.Price)
	}
	if o.Remaining() <= 0 {
		return errors.Wrapf(errs.ErrInvalidQuantity, "order %d remaining %d", o.ID, o.Remaining())
	}
	if _, ok := b.orders[o.ID]; ok {
		return errors.Wrapf(errs.ErrDuplicateOrder, "order %d", o.ID)
	}

	b.side(o.Side).Upsert(o.Price).Enqueue(o)
	b.orders[o.ID] = o
	return nil
}

// RemoveOrder unlinks a resting order and drops its level when empty.
func (b *OrderBook) RemoveOrder(id uint64) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, errors.Wrapf(errs.ErrOrderNotFound, "order %d", id)
	}
	b.unlink(o)
	return o, nil
}

// ApplyFill consumes qty from a resting order. A fully filled order leaves
// the book, and so does its level once empty.
func (b *OrderBook) ApplyFill(id uint64, qty int64) error {
	o, ok := b.orders[id]
	if !ok {
		return errors.Wrapf(errs.ErrOrderNotFound, "order %d", id)
	}
	if qty <= 0 || qty > o.Remaining() {
		return errors.Wrapf(errs.ErrInvalidQuantity, "fill %d against remaining %d", qty, o.Remaining())
	}

	o.Filled += qty
	o.level.reduce(qty)
	if o.Remaining() == 0 {
		b.unlink(o)
	}
	return nil
}

func (b *OrderBook) unlink(o *Order) {
	lvl := o.level
	lvl.Unlink(o)
	delete(b.orders, o.ID)
	if lvl.Empty() {
		b.side(o.Side).Delete(lvl.Price)
	}
}

func (b *OrderBook) Get(id uint64) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Len is the number of resting orders.
func (b *OrderBook) Len() int {
	return len(b.orders)
}

// BestLevel returns the best level on side s, or nil.
func (b *OrderBook) BestLevel(s Side) *PriceLevel {
	if s == Buy {
		return b.bids.Max()
	}
	return b.asks.Min()
}

func (b *OrderBook) BestBid() (Quote, bool) {
	return quoteOf(b.bids.Max())
}

func (b *OrderBook) BestAsk() (Quote, bool) {
	return quoteOf(b.asks.Min())
}

func quoteOf(lvl *PriceLevel) (Quote, bool) {
	if lvl == nil {
		return Quote{}, false
	}
	return Quote{Price: lvl.Price, Qty: lvl.TotalQty}, true
}

// LevelQty is the aggregate resting quantity at price, zero when absent.
func (b *OrderBook) LevelQty(s Side, price int64) int64 {
	if lvl := b.side(s).Find(price); lvl != nil {
		return lvl.TotalQty
	}
	return 0
}

// Crossed reports best bid >= best ask. It must never hold after a
// matching pass.
func (b *OrderBook) Crossed() bool {
	bid, okb := b.BestBid()
	ask, oka := b.BestAsk()
	return okb && oka && bid.Price >= ask.Price
}

// Depth returns up to n levels per side. n <= 0 means all levels.
func (b *OrderBook) Depth(n int) Depth {
	var d Depth
	b.WalkBids(func(l *PriceLevel) bool {
		d.Bids = append(d.Bids, Quote{Price: l.Price, Qty: l.TotalQty})
		return n <= 0 || len(d.Bids) < n
	})
	b.WalkAsks(func(l *PriceLevel) bool {
		d.Asks = append(d.Asks, Quote{Price: l.Price, Qty: l.TotalQty})
		return n <= 0 || len(d.Asks) < n
	})
	return d
}

// ---- traversal helpers ----

// WalkBids visits bid levels from the highest price.
func (b *OrderBook) WalkBids(fn func(*PriceLevel) bool) {
	b.bids.Descend(fn)
}

// WalkAsks visits ask levels from the lowest price.
func (b *OrderBook) WalkAsks(fn func(*PriceLevel) bool) {
	b.asks.Ascend(fn)
}

// WalkOrders visits every resting order in priority order, bids first.
func (b *OrderBook) WalkOrders(fn func(*Order)) {
	visit := func(l *PriceLevel) bool {
		for o := l.Head(); o != nil; o = o.Next() {
			fn(o)
		}
		return true
	}
	b.WalkBids(visit)
	b.WalkAsks(visit)
}
