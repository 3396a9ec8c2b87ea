package marketdata

import (
	"github.com/Rizwan-Beg/fxharry/domain/matching"
)

// Update is what book subscribers receive: the level deltas and fills of
// one matching pass on one symbol.
type Update struct {
	Symbol string
	Seq    uint64
	Deltas []matching.BookDelta
	Fills  []matching.Fill
}

// Feed is the process-wide market-data fan-out.
type Feed struct {
	*Hub[Update]
}

func NewFeed() *Feed {
	return &Feed{Hub: NewHub[Update]()}
}

// Publish broadcasts the visible outcome of a pass. Empty results are
// skipped.
func (f *Feed) Publish(symbol string, seq uint64, r matching.Result) {
	if len(r.Deltas) == 0 && len(r.Fills) == 0 {
		return
	}
	f.Broadcast(Update{Symbol: symbol, Seq: seq, Deltas: r.Deltas, Fills: r.Fills})
}

// SubscribeSymbol delivers updates for one symbol; "" means all.
func (f *Feed) SubscribeSymbol(symbol string, buffer int) *Subscription[Update] {
	if symbol == "" {
		return f.Subscribe(buffer, nil)
	}
	return f.Subscribe(buffer, func(u Update) bool { return u.Symbol == symbol })
}
