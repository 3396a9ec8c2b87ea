package orderbook

import (
	"strings"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/cockroachdb/errors"
)

type Side uint8
type OrderType uint8
type Status uint8

const (
	Buy Side = iota
	Sell
)

const (
	Limit OrderType = iota
	Market
	Cancel
)

// Order lifecycle. Submitted and Acknowledged are owned by the executor;
// the matching pass moves an order into PartiallyFilled, Filled or
// Cancelled.
const (
	Submitted Status = iota
	Acknowledged
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// ParseSide accepts the String form and the usual aliases.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(v) {
	case "buy", "bid", "b":
		return Buy, nil
	case "sell", "ask", "s":
		return Sell, nil
	}
	return 0, errors.Wrapf(errs.ErrInvalidArgument, "unknown side %q", v)
}

// ParseOrderType accepts limit and market orders; an empty value means
// limit.
func ParseOrderType(v string) (OrderType, error) {
	switch strings.ToLower(v) {
	case "", "limit", "lmt":
		return Limit, nil
	case "market", "mkt":
		return Market, nil
	}
	return 0, errors.Wrapf(errs.ErrInvalidArgument, "unknown order type %q", v)
}

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

func (s Status) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Acknowledged:
		return "acknowledged"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// Order is a pure domain entity. Identity fields never change after
// submission; Filled and Status are written only by the matching pass.
type Order struct {
	ID     uint64
	Symbol string
	Price  int64
	Qty    int64
	Filled int64
	Seq    uint64
	Time   int64

	Side   Side
	Type   OrderType
	Status Status

	level *PriceLevel
	next  *Order
	prev  *Order
}

func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Resting reports whether the order currently sits in a price level.
func (o *Order) Resting() bool {
	return o.level != nil
}

// Read-only traversal helper.
func (o *Order) Next() *Order {
	return o.next
}

// Reset clears o for reuse from a pool.
func (o *Order) Reset() {
	*o = Order{}
}
