package executor

import (
	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
)

// RiskLimits are pre-trade checks. Zero disables a limit.
type RiskLimits struct {
	MaxOrderQty int64
	MaxNotional int64
}

// check uses ref as the price of a market order; ref 0 skips the
// notional check for it.
func (l RiskLimits) check(r Request, ref int64) error {
	if l.MaxOrderQty > 0 && r.Qty > l.MaxOrderQty {
		return errors.Wrapf(errs.ErrRiskLimit, "qty %d above %d", r.Qty, l.MaxOrderQty)
	}
	if l.MaxNotional <= 0 {
		return nil
	}
	price := r.Price
	if r.Type == orderbook.Market {
		price = ref
	}
	if price > 0 && r.Qty > l.MaxNotional/price {
		return errors.Wrapf(errs.ErrRiskLimit, "notional %d*%d above %d", price, r.Qty, l.MaxNotional)
	}
	return nil
}
