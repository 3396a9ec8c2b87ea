package matching

import (
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/market"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Engine applies orders and cancels to one book. It is single-writer and
// deterministic: the same sequence of calls with the same clock readings
// yields the same fills.
type Engine struct {
	book     *orderbook.OrderBook
	slippage market.SlippageModel
	now      func() int64
	log      *zap.Logger

	intentCheck func(id uint64) bool
	transient   func(id uint64) bool

	intents  map[uint64]struct{}
	terminal map[uint64]orderbook.Status

	fillSeq  uint64
	deltaSeq uint64
}

type Option func(*Engine)

func WithSlippage(m market.SlippageModel) Option {
	return func(e *Engine) { e.slippage = m }
}

// WithClock sets the time source stamped on fills.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// WithIntentCheck installs an extra cancel-intent lookup, consulted in
// addition to MarkCancelIntent. fn may be called for every resting order
// the pass reaches.
func WithIntentCheck(fn func(id uint64) bool) Option {
	return func(e *Engine) { e.intentCheck = fn }
}

// WithTransient marks ids whose terminal state need not be remembered,
// e.g. synthetic liquidity.
func WithTransient(fn func(id uint64) bool) Option {
	return func(e *Engine) { e.transient = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(book *orderbook.OrderBook, opts ...Option) *Engine {
	e := &Engine{
		book:     book,
		slippage: market.NoSlippage{},
		now:      func() int64 { return time.Now().UnixNano() },
		log:      zap.NewNop(),
		intents:  make(map[uint64]struct{}),
		terminal: make(map[uint64]orderbook.Status),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Book() *orderbook.OrderBook { return e.book }

// LastFillSeq is the sequence number of the most recent fill.
func (e *Engine) LastFillSeq() uint64 { return e.fillSeq }

// Status reports the known state of id: resting orders and remembered
// terminal ones.
func (e *Engine) Status(id uint64) (orderbook.Status, bool) {
	if o, ok := e.book.Get(id); ok {
		return o.Status, true
	}
	s, ok := e.terminal[id]
	return s, ok
}

// MarkCancelIntent records that id should be cancelled rather than
// filled if a pass reaches it before the cancel itself is processed.
func (e *Engine) MarkCancelIntent(id uint64) {
	e.intents[id] = struct{}{}
}

func (e *Engine) intended(id uint64) bool {
	if _, ok := e.intents[id]; ok {
		return true
	}
	return e.intentCheck != nil && e.intentCheck(id)
}

func (e *Engine) remember(id uint64, s orderbook.Status) {
	delete(e.intents, id)
	if e.transient != nil && e.transient(id) {
		return
	}
	e.terminal[id] = s
}

// Submit matches o against the opposite side and rests any limit
// remainder. A market order against an empty opposite side is rejected
// with ErrNoLiquidity and leaves the book untouched. A market remainder
// is dropped and the order ends Cancelled.
func (e *Engine) Submit(o *orderbook.Order) (Result, error) {
	if o.Type == orderbook.Cancel {
		return e.Cancel(o.ID)
	}
	if o.Qty <= 0 || o.Filled != 0 {
		return Result{}, errors.Wrapf(errs.ErrInvalidQuantity, "order %d qty %d", o.ID, o.Qty)
	}
	if o.Type == orderbook.Limit && o.Price <= 0 {
		return Result{}, errors.Wrapf(errs.ErrInvalidPrice, "order %d price %d", o.ID, o.Price)
	}
	if _, ok := e.Status(o.ID); ok {
		return Result{}, errors.Wrapf(errs.ErrDuplicateOrder, "order %d", o.ID)
	}
	if o.Symbol == "" {
		o.Symbol = e.book.Symbol
	}

	opp := o.Side.Opposite()
	if o.Type == orderbook.Market && e.book.BestLevel(opp) == nil {
		o.Status = orderbook.Rejected
		e.remember(o.ID, o.Status)
		return Result{}, errors.Wrapf(errs.ErrNoLiquidity, "%s market order %d", e.book.Symbol, o.ID)
	}

	var (
		res     Result
		touched []levelKey
	)
	for o.Remaining() > 0 {
		lvl := e.book.BestLevel(opp)
		if lvl == nil || !crosses(o, lvl.Price) {
			break
		}
		touched = touch(touched, opp, lvl.Price)

		head := lvl.Head()
		if e.intended(head.ID) {
			e.cancelResting(head, &res)
			continue
		}

		qty := min(o.Remaining(), head.Remaining())
		now := e.now()
		if err := e.book.ApplyFill(head.ID, qty); err != nil {
			// the book and the pass disagree about the head order
			return res, errors.Wrapf(err, "fill against %d", head.ID)
		}
		o.Filled += qty
		e.fillSeq++
		res.Fills = append(res.Fills, Fill{
			Seq:            e.fillSeq,
			Symbol:         e.book.Symbol,
			OrderID:        o.ID,
			CounterOrderID: head.ID,
			Side:           o.Side,
			Price:          lvl.Price,
			ExecPrice:      e.slippage.Adjust(o.Side, lvl.Price, qty, now),
			Qty:            qty,
			Time:           now,
		})

		if head.Remaining() == 0 {
			head.Status = orderbook.Filled
			e.remember(head.ID, head.Status)
		} else {
			head.Status = orderbook.PartiallyFilled
		}
		res.Updates = append(res.Updates, Update{OrderID: head.ID, Status: head.Status, Filled: head.Filled})
	}

	switch {
	case o.Remaining() == 0:
		o.Status = orderbook.Filled
		e.remember(o.ID, o.Status)
	case o.Type == orderbook.Limit:
		if o.Filled > 0 {
			o.Status = orderbook.PartiallyFilled
		} else {
			o.Status = orderbook.Acknowledged
		}
		if err := e.book.AddOrder(o); err != nil {
			return res, err
		}
		res.Rested = true
		touched = touch(touched, o.Side, o.Price)
	case o.Filled == 0:
		// every reachable level was withdrawn by cancel intents
		o.Status = orderbook.Rejected
		e.remember(o.ID, o.Status)
		res.Deltas = e.deltas(touched)
		return res, errors.Wrapf(errs.ErrNoLiquidity, "%s market order %d", e.book.Symbol, o.ID)
	default:
		o.Status = orderbook.Cancelled
		e.remember(o.ID, o.Status)
	}

	res.Deltas = e.deltas(touched)
	if len(res.Fills) > 0 {
		e.log.Debug("matched",
			zap.String("symbol", e.book.Symbol),
			zap.Uint64("order_id", o.ID),
			zap.Int("fills", len(res.Fills)),
			zap.Int64("filled", o.Filled))
	}
	return res, nil
}

// Cancel removes a resting order. A known terminal id yields
// ErrOrderAlreadyTerminal, anything else ErrOrderNotFound.
func (e *Engine) Cancel(id uint64) (Result, error) {
	o, ok := e.book.Get(id)
	if !ok {
		if s, done := e.terminal[id]; done {
			return Result{}, errors.Wrapf(errs.ErrOrderAlreadyTerminal, "order %d is %s", id, s)
		}
		return Result{}, errors.Wrapf(errs.ErrOrderNotFound, "order %d", id)
	}

	var res Result
	e.cancelResting(o, &res)
	res.Deltas = e.deltas([]levelKey{{o.Side, o.Price}})
	return res, nil
}

func (e *Engine) cancelResting(o *orderbook.Order, res *Result) {
	// o is known to rest; RemoveOrder cannot fail here
	_, _ = e.book.RemoveOrder(o.ID)
	o.Status = orderbook.Cancelled
	e.remember(o.ID, o.Status)
	res.Updates = append(res.Updates, Update{OrderID: o.ID, Status: o.Status, Filled: o.Filled})
}

// Forget drops the remembered terminal state of id.
func (e *Engine) Forget(id uint64) {
	delete(e.terminal, id)
}

type levelKey struct {
	side  orderbook.Side
	price int64
}

func touch(keys []levelKey, s orderbook.Side, p int64) []levelKey {
	for _, k := range keys {
		if k.side == s && k.price == p {
			return keys
		}
	}
	return append(keys, levelKey{s, p})
}

func (e *Engine) deltas(keys []levelKey) []BookDelta {
	if len(keys) == 0 {
		return nil
	}
	out := make([]BookDelta, 0, len(keys))
	for _, k := range keys {
		e.deltaSeq++
		out = append(out, BookDelta{
			Seq:    e.deltaSeq,
			Symbol: e.book.Symbol,
			Side:   k.side,
			Price:  k.price,
			Qty:    e.book.LevelQty(k.side, k.price),
		})
	}
	return out
}

func crosses(o *orderbook.Order, level int64) bool {
	if o.Type == orderbook.Market {
		return true
	}
	if o.Side == orderbook.Buy {
		return level <= o.Price
	}
	return level >= o.Price
}
