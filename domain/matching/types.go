package matching

import "github.com/Rizwan-Beg/fxharry/domain/orderbook"

// Fill is one execution between an aggressor and a resting order. Price is
// the resting level price; ExecPrice is what the aggressor paid after
// slippage.
type Fill struct {
	Seq            uint64
	Symbol         string
	OrderID        uint64
	CounterOrderID uint64
	Side           orderbook.Side
	Price          int64
	ExecPrice      int64
	Qty            int64
	Time           int64
}

// Notional in ticks*lots at the executed price.
func (f Fill) Notional() int64 {
	return f.ExecPrice * f.Qty
}

// BookDelta is the new aggregate quantity at one level. Qty 0 means the
// level is gone.
type BookDelta struct {
	Seq    uint64
	Symbol string
	Side   orderbook.Side
	Price  int64
	Qty    int64
}

// Update is a state change of a resting order caused by a pass.
type Update struct {
	OrderID uint64
	Status  orderbook.Status
	Filled  int64
}

// Result is everything a single Submit or Cancel produced, in order.
type Result struct {
	Fills   []Fill
	Deltas  []BookDelta
	Updates []Update

	// Rested is set when the aggressor's remainder joined the book.
	Rested bool
}

func (r Result) FilledQty() int64 {
	var n int64
	for _, f := range r.Fills {
		n += f.Qty
	}
	return n
}
