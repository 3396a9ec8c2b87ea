// Package errs defines the error kinds shared by the order book, the
// matching engine, the simulator and the executor.
//
// Every failure returned by the core wraps exactly one of the sentinels
// below, so callers can tell a caller bug from a benign race or a market
// rejection with errors.Is or KindOf.
package errs

import "github.com/cockroachdb/errors"

type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindInvalidPrice
	KindInvalidQuantity
	KindDuplicateOrder
	KindOrderNotFound
	KindOrderAlreadyTerminal
	KindNoLiquidity
	KindNonMonotonicEvent
	KindVenueTimeout
	KindVenueRejected
	KindQueueFull
	KindRiskLimit
	KindShutdown
)

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrDuplicateOrder       = errors.New("duplicate order id")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderAlreadyTerminal = errors.New("order already terminal")
	ErrNoLiquidity          = errors.New("no liquidity")
	ErrNonMonotonicEvent    = errors.New("non-monotonic event")
	ErrVenueTimeout         = errors.New("venue timeout")
	ErrVenueRejected        = errors.New("venue rejected")
	ErrQueueFull            = errors.New("submission queue full")
	ErrRiskLimit            = errors.New("risk limit breached")
	ErrShutdown             = errors.New("engine is shutting down")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrInvalidPrice, KindInvalidPrice},
	{ErrInvalidQuantity, KindInvalidQuantity},
	{ErrDuplicateOrder, KindDuplicateOrder},
	{ErrOrderNotFound, KindOrderNotFound},
	{ErrOrderAlreadyTerminal, KindOrderAlreadyTerminal},
	{ErrNoLiquidity, KindNoLiquidity},
	{ErrNonMonotonicEvent, KindNonMonotonicEvent},
	{ErrVenueTimeout, KindVenueTimeout},
	{ErrVenueRejected, KindVenueRejected},
	{ErrQueueFull, KindQueueFull},
	{ErrRiskLimit, KindRiskLimit},
	{ErrShutdown, KindShutdown},
}

// KindOf classifies err. nil maps to KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Benign reports whether err is an expected race outcome rather than a
// caller bug or a market rejection.
func Benign(err error) bool {
	switch KindOf(err) {
	case KindOrderNotFound, KindOrderAlreadyTerminal:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindInvalidPrice:
		return "InvalidPrice"
	case KindInvalidQuantity:
		return "InvalidQuantity"
	case KindDuplicateOrder:
		return "DuplicateOrder"
	case KindOrderNotFound:
		return "OrderNotFound"
	case KindOrderAlreadyTerminal:
		return "OrderAlreadyTerminal"
	case KindNoLiquidity:
		return "NoLiquidity"
	case KindNonMonotonicEvent:
		return "NonMonotonicEvent"
	case KindVenueTimeout:
		return "VenueTimeout"
	case KindVenueRejected:
		return "VenueRejected"
	case KindQueueFull:
		return "QueueFull"
	case KindRiskLimit:
		return "RiskLimit"
	case KindShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}
