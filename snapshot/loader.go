package snapshot

import (
	"encoding/gob"
	"os"

	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
)

// Load reads the snapshot of symbol. A missing file is not an error:
// ok is false and the book starts empty.
func (w *Writer) Load(symbol string) (s Snapshot, ok bool, err error) {
	f, err := os.Open(w.path(symbol))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "open snapshot")
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return Snapshot{}, false, errors.Wrapf(err, "decode snapshot %s", symbol)
	}
	return s, true, nil
}

// Restore adds the entries of s to an empty book. newOrder supplies the
// order objects, typically from a pool.
func Restore(s Snapshot, book *orderbook.OrderBook, newOrder func() *orderbook.Order) error {
	if book.Len() != 0 {
		return errors.Newf("restore %s into non-empty book", s.Symbol)
	}
	for _, e := range s.Orders {
		o := newOrder()
		*o = orderbook.Order{
			ID:     e.ID,
			Symbol: s.Symbol,
			Side:   orderbook.Side(e.Side),
			Type:   orderbook.OrderType(e.Type),
			Status: orderbook.Status(e.Status),
			Price:  e.Price,
			Qty:    e.Qty,
			Filled: e.Filled,
			Time:   e.Time,
		}
		if err := book.AddOrder(o); err != nil {
			return errors.Wrapf(err, "restore order %d", e.ID)
		}
	}
	return nil
}
