package market

import (
	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Tick is one external market-data observation. Bids and Asks, when set,
// are best first. A tick with neither carries only a reference Price.
type Tick struct {
	Symbol string
	Price  int64
	Bids   []orderbook.Quote
	Asks   []orderbook.Quote
	Time   int64
}

func (t Tick) HasQuotes() bool {
	return len(t.Bids) > 0 || len(t.Asks) > 0
}

// Scale converts between decimal prices and integer ticks for one symbol.
type Scale struct {
	TickSize decimal.Decimal
	LotSize  decimal.Decimal
}

func NewScale(tick, lot string) (Scale, error) {
	ts, err := decimal.NewFromString(tick)
	if err != nil {
		return Scale{}, errors.Wrapf(errs.ErrInvalidArgument, "tick size %q: %v", tick, err)
	}
	ls, err := decimal.NewFromString(lot)
	if err != nil {
		return Scale{}, errors.Wrapf(errs.ErrInvalidArgument, "lot size %q: %v", lot, err)
	}
	if !ts.IsPositive() || !ls.IsPositive() {
		return Scale{}, errors.Wrap(errs.ErrInvalidArgument, "tick and lot size must be positive")
	}
	return Scale{TickSize: ts, LotSize: ls}, nil
}

// PriceTicks rounds p to the nearest tick.
func (s Scale) PriceTicks(p decimal.Decimal) int64 {
	return p.Div(s.TickSize).Round(0).IntPart()
}

// QtyLots truncates q to whole lots.
func (s Scale) QtyLots(q decimal.Decimal) int64 {
	return q.Div(s.LotSize).Truncate(0).IntPart()
}

func (s Scale) Price(ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(s.TickSize)
}

func (s Scale) Qty(lots int64) decimal.Decimal {
	return decimal.NewFromInt(lots).Mul(s.LotSize)
}
