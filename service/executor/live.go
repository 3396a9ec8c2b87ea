package executor

import (
	"context"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/infra/metrics"
	"github.com/Rizwan-Beg/fxharry/infra/venue"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Venue calls run off the worker and report back through the inbox, so a
// slow venue never stalls other symbols on the shard.

func (s *shard) submitLive(h *OrderHandle) {
	s.live[h.ID] = h
	if h.cancelIntent.Load() {
		h.intentCancelled = true
		s.transition(h, orderbook.Cancelled, nil)
		return
	}
	o := orderbook.Order{
		ID:     h.ID,
		Symbol: h.Symbol,
		Price:  h.Price,
		Qty:    h.Qty,
		Seq:    h.ID,
		Time:   s.e.now(),
		Side:   h.Side,
		Type:   h.Type,
		Status: orderbook.Submitted,
	}
	s.call(func(ctx context.Context) msg {
		ack, err := s.e.venue.Submit(ctx, o)
		return msg{kind: msgVenueAck, handle: h, ack: ack, err: err}
	}, func(err error) msg {
		return msg{kind: msgVenueAck, handle: h, err: err}
	})
}

// call runs fn under the venue deadline and posts its result. An adapter
// that ignores its context still loses at the deadline: timeout's message
// is posted instead and the late answer is discarded.
func (s *shard) call(fn func(ctx context.Context) msg, timeout func(error) msg) {
	go func() {
		ctx, cancel := context.WithTimeout(s.e.ctx, s.e.cfg.VenueTimeout)
		defer cancel()
		start := time.Now()
		done := make(chan msg, 1)
		go func() { done <- fn(ctx) }()

		var m msg
		select {
		case m = <-done:
		case <-ctx.Done():
			m = timeout(errors.Wrapf(ctx.Err(), "venue gave no answer within %s", s.e.cfg.VenueTimeout))
		}
		metrics.Since(s.e.metrics.VenueLatency, start)
		if err := s.post(context.Background(), m); err != nil {
			s.log.Debug("venue result dropped", zap.Error(err))
		}
	}()
}

// venueError classifies an adapter failure. Deadline overruns become
// ErrVenueTimeout; anything without a kind is a rejection.
func venueError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, errs.ErrVenueTimeout) {
		return errors.Mark(errors.Wrap(err, "venue deadline"), errs.ErrVenueTimeout)
	}
	if errs.KindOf(err) == errs.KindUnknown {
		return errors.Mark(err, errs.ErrVenueRejected)
	}
	return err
}

func (s *shard) venueAck(h *OrderHandle, ack venue.Ack, err error) {
	if h.Status() != orderbook.Submitted {
		return
	}
	switch {
	case err != nil:
		err = venueError(err)
		s.log.Warn("venue submit failed", zap.Uint64("order_id", h.ID), zap.Error(err))
		s.transition(h, orderbook.Rejected, err)
	case !ack.Accepted:
		s.transition(h, orderbook.Rejected, errors.Wrapf(errs.ErrVenueRejected, "order %d: %s", h.ID, ack.Reason))
	default:
		s.transition(h, orderbook.Acknowledged, nil)
		if len(h.pending) > 0 || h.cancelIntent.Load() {
			s.startCancel(h)
		}
	}
}

func (s *shard) cancelLive(h *OrderHandle, t *CancelTicket) {
	h.pending = append(h.pending, t)
	if h.Status() == orderbook.Submitted || h.cancelling {
		return
	}
	s.startCancel(h)
}

func (s *shard) startCancel(h *OrderHandle) {
	h.cancelling = true
	tickets := h.pending
	h.pending = nil
	s.call(func(ctx context.Context) msg {
		ack, err := s.e.venue.Cancel(ctx, h.ID)
		return msg{kind: msgVenueCancel, handle: h, tickets: tickets, ack: ack, err: err}
	}, func(err error) msg {
		return msg{kind: msgVenueCancel, handle: h, tickets: tickets, err: err}
	})
}

func (s *shard) venueCancelled(h *OrderHandle, tickets []*CancelTicket, ack venue.Ack, err error) {
	h.cancelling = false
	st := h.Status()
	switch {
	case st.Terminal():
		err = errors.Wrapf(errs.ErrOrderAlreadyTerminal, "order %d is %s", h.ID, st)
	case err != nil:
		err = venueError(err)
		h.cancelIntent.Store(false)
	case !ack.Accepted:
		err = errors.Wrapf(errs.ErrVenueRejected, "cancel %d: %s", h.ID, ack.Reason)
		h.cancelIntent.Store(false)
	default:
		h.cancelAcked = true
		h.intentCancelled = true
		s.transition(h, orderbook.Cancelled, nil)
	}
	for i, t := range tickets {
		if err == nil && i > 0 {
			t.resolve(errors.Wrapf(errs.ErrOrderAlreadyTerminal, "order %d is %s", h.ID, orderbook.Cancelled))
			continue
		}
		t.resolve(err)
	}
	// tickets that queued up while this call was in flight
	if len(h.pending) > 0 && !h.Status().Terminal() {
		s.startCancel(h)
	}
}

func (s *shard) execution(h *OrderHandle, x venue.Execution) {
	st := h.Status()
	if st != orderbook.Acknowledged && st != orderbook.PartiallyFilled {
		s.log.Warn("execution for order not working",
			zap.Uint64("order_id", h.ID), zap.Stringer("status", st))
		return
	}
	qty := min(x.Qty, h.Remaining())
	ts := x.Time
	if ts == 0 {
		ts = s.e.now()
	}
	s.liveSeq++
	s.fills([]matching.Fill{{
		Seq:       s.liveSeq,
		Symbol:    h.Symbol,
		OrderID:   h.ID,
		Side:      h.Side,
		Price:     x.Price,
		ExecPrice: x.Price,
		Qty:       qty,
		Time:      ts,
	}})
	h.filled.Add(qty)
	if h.Remaining() == 0 {
		s.transition(h, orderbook.Filled, nil)
	} else {
		s.transition(h, orderbook.PartiallyFilled, nil)
	}
}
