package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
)

// OrderHandle is the caller's view of one submitted order. Its state is
// written only by the owning shard worker; every accessor is safe from
// any goroutine.
type OrderHandle struct {
	ID     uint64
	Symbol string
	Side   orderbook.Side
	Type   orderbook.OrderType
	Price  int64
	Qty    int64

	status       atomic.Uint32
	filled       atomic.Int64
	cancelIntent atomic.Bool

	updates chan events.Transition
	done    chan struct{}
	once    sync.Once
	err     error

	// owned by the shard worker
	// intentCancelled is set when a cancel request, not the market,
	// ended the order.
	intentCancelled bool
	cancelAcked     bool
	cancelling      bool
	pending         []*CancelTicket
}

func newHandle(id uint64, r Request, buffer int) *OrderHandle {
	h := &OrderHandle{
		ID:      id,
		Symbol:  r.Symbol,
		Side:    r.Side,
		Type:    r.Type,
		Price:   r.Price,
		Qty:     r.Qty,
		updates: make(chan events.Transition, buffer),
		done:    make(chan struct{}),
	}
	h.status.Store(uint32(orderbook.Submitted))
	return h
}

func (h *OrderHandle) Status() orderbook.Status {
	return orderbook.Status(h.status.Load())
}

func (h *OrderHandle) Filled() int64 {
	return h.filled.Load()
}

func (h *OrderHandle) Remaining() int64 {
	return h.Qty - h.filled.Load()
}

// Updates delivers every transition in order. A subscriber that falls
// more than the buffer behind misses intermediate transitions; the final
// one is always observable through Done and Status. The channel is closed
// after the terminal transition.
func (h *OrderHandle) Updates() <-chan events.Transition {
	return h.updates
}

// Done is closed when the order reaches a terminal state.
func (h *OrderHandle) Done() <-chan struct{} {
	return h.done
}

// Err is the rejection cause, valid once Done is closed.
func (h *OrderHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the order is terminal or ctx ends.
func (h *OrderHandle) Wait(ctx context.Context) (orderbook.Status, error) {
	select {
	case <-h.done:
		return h.Status(), h.err
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}

// publish is called only from the owning worker.
func (h *OrderHandle) publish(t events.Transition) {
	select {
	case h.updates <- t:
	default:
	}
}

func (h *OrderHandle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
		close(h.updates)
	})
}

// CancelTicket resolves once the owning worker has processed a cancel.
type CancelTicket struct {
	OrderID uint64
	done    chan struct{}
	err     error
}

func newTicket(id uint64) *CancelTicket {
	return &CancelTicket{OrderID: id, done: make(chan struct{})}
}

func (t *CancelTicket) resolve(err error) {
	t.err = err
	close(t.done)
}

func (t *CancelTicket) Done() <-chan struct{} { return t.done }

// Wait returns nil when the order was cancelled and
// ErrOrderAlreadyTerminal when a fill or an earlier cancel won the race.
func (t *CancelTicket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
