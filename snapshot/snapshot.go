package snapshot

import "github.com/Rizwan-Beg/fxharry/domain/orderbook"

// Snapshot is the durable form of one book.
type Snapshot struct {
	Symbol  string
	Seq     uint64
	Created int64
	Orders  []OrderEntry
}

type OrderEntry struct {
	ID     uint64
	Side   uint8
	Type   uint8
	Status uint8
	Price  int64
	Qty    int64
	Filled int64
	Time   int64
}

// Capture copies every resting order in priority order, so restoring the
// entries in sequence rebuilds the same FIFO queues.
func Capture(book *orderbook.OrderBook, seq uint64, created int64) Snapshot {
	s := Snapshot{
		Symbol:  book.Symbol,
		Seq:     seq,
		Created: created,
		Orders:  make([]OrderEntry, 0, book.Len()),
	}
	book.WalkOrders(func(o *orderbook.Order) {
		s.Orders = append(s.Orders, OrderEntry{
			ID:     o.ID,
			Side:   uint8(o.Side),
			Type:   uint8(o.Type),
			Status: uint8(o.Status),
			Price:  o.Price,
			Qty:    o.Qty,
			Filled: o.Filled,
			Time:   o.Time,
		})
	})
	return s
}

// MaxOrderID is the highest id in s, used to seed id sequencers.
func (s Snapshot) MaxOrderID() uint64 {
	var m uint64
	for _, e := range s.Orders {
		if e.ID > m {
			m = e.ID
		}
	}
	return m
}
