// Package venue is the live-trading side of the executor: the narrow
// adapter contract a venue connection implements, a guard that adds a
// circuit breaker and a rate limit around any adapter, and a JSON over
// websocket adapter.
package venue

import (
	"context"

	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
)

// Ack is the venue's answer to a submit or cancel.
type Ack struct {
	OrderID  uint64
	ClientID string
	VenueID  string
	Accepted bool
	Reason   string
}

// Execution is a fill reported by the venue after an accepted submit.
type Execution struct {
	OrderID uint64
	Price   int64
	Qty     int64
	Time    int64
}

// Adapter talks to one venue. Calls must honour ctx: the executor bounds
// each with a deadline and treats expiry as a timeout. Adapters must not
// retry on their own.
type Adapter interface {
	Submit(ctx context.Context, o orderbook.Order) (Ack, error)
	Cancel(ctx context.Context, orderID uint64) (Ack, error)
}
