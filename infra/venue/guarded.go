package venue

import (
	"context"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Guarded wraps an Adapter with a breaker and a limiter and normalises
// errors into kinds: an expired deadline becomes ErrVenueTimeout, an
// open breaker or empty bucket ErrVenueRejected. Nothing is retried.
type Guarded struct {
	inner   Adapter
	breaker *Breaker
	limiter *Limiter
	log     *zap.Logger
	observe func(time.Duration)
}

func NewGuarded(inner Adapter, b *Breaker, l *Limiter, log *zap.Logger) *Guarded {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guarded{inner: inner, breaker: b, limiter: l, log: log}
}

// OnLatency installs a hook receiving every call's round trip.
func (g *Guarded) OnLatency(fn func(time.Duration)) {
	g.observe = fn
}

func (g *Guarded) Submit(ctx context.Context, o orderbook.Order) (Ack, error) {
	if err := g.admit(); err != nil {
		return Ack{OrderID: o.ID, Reason: err.Error()}, err
	}
	start := time.Now()
	ack, err := g.inner.Submit(ctx, o)
	return ack, g.settle(ctx, start, "submit", o.ID, err)
}

func (g *Guarded) Cancel(ctx context.Context, id uint64) (Ack, error) {
	if err := g.admit(); err != nil {
		return Ack{OrderID: id, Reason: err.Error()}, err
	}
	start := time.Now()
	ack, err := g.inner.Cancel(ctx, id)
	return ack, g.settle(ctx, start, "cancel", id, err)
}

func (g *Guarded) admit() error {
	if g.breaker != nil && !g.breaker.Allow() {
		return errors.Wrap(errs.ErrVenueRejected, "circuit open")
	}
	if g.limiter != nil && !g.limiter.Allow() {
		return errors.Wrap(errs.ErrVenueRejected, "rate limited")
	}
	return nil
}

func (g *Guarded) settle(ctx context.Context, start time.Time, op string, id uint64, err error) error {
	if g.observe != nil {
		g.observe(time.Since(start))
	}
	if err == nil {
		if g.breaker != nil {
			g.breaker.Success()
		}
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if !errors.Is(err, errs.ErrVenueTimeout) {
			err = errors.Mark(err, errs.ErrVenueTimeout)
		}
	}
	if g.breaker != nil && !errors.Is(err, errs.ErrVenueRejected) {
		g.breaker.Failure()
	}
	g.log.Warn("venue call failed",
		zap.String("op", op),
		zap.Uint64("order_id", id),
		zap.Error(err))
	return err
}
