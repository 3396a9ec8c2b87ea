package market

import (
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/shopspring/decimal"
)

// SlippageModel maps a level price to the price the aggressor actually
// pays. side is the aggressor side. Results never go below one tick.
type SlippageModel interface {
	Adjust(side orderbook.Side, price, qty, now int64) int64
}

type NoSlippage struct{}

func (NoSlippage) Adjust(_ orderbook.Side, price, _, _ int64) int64 { return price }

// LinearImpact moves the price against the aggressor by BpsPerLot basis
// points for every lot filled, rounded to the nearest tick.
type LinearImpact struct {
	BpsPerLot decimal.Decimal
}

var bpsDenom = decimal.NewFromInt(10_000)

func (l LinearImpact) Adjust(side orderbook.Side, price, qty, _ int64) int64 {
	impact := decimal.NewFromInt(price).
		Mul(l.BpsPerLot).
		Mul(decimal.NewFromInt(qty)).
		Div(bpsDenom).
		Round(0).
		IntPart()
	return shift(side, price, impact)
}

// RandomSlippage moves the price against the aggressor by a seeded amount
// in [0, MaxTicks] ticks.
type RandomSlippage struct {
	MaxTicks int64
	Seed     uint64
}

func (r RandomSlippage) Adjust(side orderbook.Side, price, qty, now int64) int64 {
	if r.MaxTicks <= 0 {
		return price
	}
	h := mix(r.Seed ^ uint64(price)<<1 ^ uint64(qty)<<17 ^ uint64(now))
	return shift(side, price, int64(h%uint64(r.MaxTicks+1)))
}

func shift(side orderbook.Side, price, ticks int64) int64 {
	if side == orderbook.Buy {
		return price + ticks
	}
	if p := price - ticks; p > 0 {
		return p
	}
	return 1
}
