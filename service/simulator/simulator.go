// Package simulator replays a timestamped stream of ticks and orders
// against per-symbol books on a virtual clock. Orders become visible to
// matching only after the latency model's delay, and their fills are
// priced through the slippage model. Identical input and model seeds give
// byte-identical fill logs.
package simulator

import (
	"container/heap"
	"context"
	"io"
	"sync/atomic"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/market"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/service/marketdata"
	"github.com/Rizwan-Beg/fxharry/snapshot"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyntheticBit marks order ids owned by the simulator's quote injection.
const SyntheticBit = uint64(1) << 63

func IsSynthetic(id uint64) bool { return id&SyntheticBit != 0 }

// FillLog is the per-run append-only fill record.
type FillLog interface {
	Append(f matching.Fill) error
	Flush() error
}

type Config struct {
	Latency  market.LatencyModel
	Slippage market.SlippageModel

	// HalfSpread and QuoteQty shape the two-sided quote synthesised from
	// a tick that carries only a reference price.
	HalfSpread int64
	QuoteQty   int64
	StartTime  int64
	// RunID labels the report and logs; empty draws a fresh UUID.
	RunID string
}

type Option func(*Simulator)

func WithFillLog(l FillLog) Option {
	return func(s *Simulator) { s.fills = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) { s.log = l }
}

// WithSink forwards every logged fill, e.g. to Kafka. Sink errors are
// logged, not fatal.
func WithSink(sink events.Sink) Option {
	return func(s *Simulator) { s.sink = sink }
}

// WithFeed publishes every pass to a market-data feed.
func WithFeed(f *marketdata.Feed) Option {
	return func(s *Simulator) { s.feed = f }
}

type book struct {
	engine    *matching.Engine
	synthetic []uint64
	// pending holds this symbol's orders still in flight to the venue.
	pending pendingQueue
}

type Simulator struct {
	cfg   Config
	clock *market.Clock
	log   *zap.Logger
	fills FillLog
	sink  events.Sink
	feed  *marketdata.Feed
	state atomic.Int32

	books   map[string]*book
	symbols []string
	owner   map[uint64]string
	waiting map[uint64]*pendingOrder
	// withdrawn holds orders cancelled before they became visible.
	withdrawn map[uint64]*orderbook.Order

	// userPass gates slippage to released user orders.
	userPass bool

	nextSynthetic uint64
	scheduled     uint64
	report        Report
}

func New(cfg Config, opts ...Option) *Simulator {
	if cfg.Latency == nil {
		cfg.Latency = market.FixedLatency(0)
	}
	if cfg.Slippage == nil {
		cfg.Slippage = market.NoSlippage{}
	}
	if cfg.HalfSpread < 1 {
		cfg.HalfSpread = 1
	}
	if cfg.QuoteQty < 1 {
		cfg.QuoteQty = 1
	}
	s := &Simulator{
		cfg:       cfg,
		clock:     market.NewClock(cfg.StartTime),
		log:       zap.NewNop(),
		books:     make(map[string]*book),
		owner:     make(map[uint64]string),
		waiting:   make(map[uint64]*pendingOrder),
		withdrawn: make(map[uint64]*orderbook.Order),
		report:    Report{Symbols: make(map[string]SymbolStats)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) State() State { return State(s.state.Load()) }

func (s *Simulator) Clock() *market.Clock { return s.clock }

// Book returns the live book of symbol. Only safe to read from the
// goroutine driving the simulator.
func (s *Simulator) Book(symbol string) *orderbook.OrderBook {
	if b, ok := s.books[symbol]; ok {
		return b.engine.Book()
	}
	return nil
}

type gatedSlippage struct {
	model market.SlippageModel
	on    *bool
}

func (g gatedSlippage) Adjust(side orderbook.Side, price, qty, now int64) int64 {
	if !*g.on {
		return price
	}
	return g.model.Adjust(side, price, qty, now)
}

func (s *Simulator) book(symbol string) *book {
	b, ok := s.books[symbol]
	if !ok {
		b = &book{engine: matching.New(
			orderbook.NewOrderBook(symbol),
			matching.WithClock(s.clock.Now),
			matching.WithSlippage(gatedSlippage{model: s.cfg.Slippage, on: &s.userPass}),
			matching.WithTransient(IsSynthetic),
			matching.WithLogger(s.log),
		)}
		s.books[symbol] = b
		s.symbols = append(s.symbols, symbol)
	}
	return b
}

// Run drives the simulator over src until EOF. It may be called once.
func (s *Simulator) Run(ctx context.Context, src TickSource) (Report, error) {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return Report{}, errors.Wrapf(errs.ErrInvalidArgument, "simulator is %s", s.State())
	}
	s.report.RunID = s.cfg.RunID
	if s.report.RunID == "" {
		s.report.RunID = uuid.NewString()
	}
	s.log.Info("simulation started", zap.String("run_id", s.report.RunID))

	for {
		ev, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return s.abort(errors.Wrap(err, "tick source"))
		}
		if err := s.apply(ev); err != nil {
			return s.abort(err)
		}
		s.report.Events++
	}

	if err := s.flush(); err != nil {
		return s.abort(err)
	}
	s.state.Store(int32(Completed))
	s.report.State = Completed
	s.report.Unreleased = s.unreleased()
	s.log.Info("simulation completed",
		zap.String("run_id", s.report.RunID),
		zap.Int("events", s.report.Events),
		zap.Int("fills", s.report.Fills),
		zap.Int("unreleased", s.report.Unreleased))
	return s.report, nil
}

func (s *Simulator) apply(ev Event) error {
	switch ev.Kind {
	case EventTick:
		if ev.Tick.Time != ev.Time {
			ev.Tick.Time = ev.Time
		}
		if err := s.SimulateTick(ev.Tick); err != nil {
			return err
		}
		return s.releaseAll()
	case EventOrder:
		if err := s.clock.AdvanceTo(ev.Time); err != nil {
			return err
		}
		if err := s.SubmitOrder(ev.Order); err != nil {
			if errs.KindOf(err) == errs.KindInvalidArgument {
				s.report.Rejected++
				s.log.Warn("order rejected", zap.Error(err))
				return nil
			}
			return err
		}
		return s.releaseAll()
	case EventCancel:
		if err := s.clock.AdvanceTo(ev.Time); err != nil {
			return err
		}
		if err := s.CancelOrder(ev.CancelID); err != nil && !errs.Benign(err) {
			return err
		}
		return nil
	default:
		return errors.Wrapf(errs.ErrInvalidArgument, "event kind %d", ev.Kind)
	}
}

func (s *Simulator) abort(cause error) (Report, error) {
	if err := s.flush(); err != nil {
		s.log.Error("flush partial fill log", zap.Error(err))
	}
	s.state.Store(int32(Aborted))
	s.report.State = Aborted
	s.report.Err = cause
	s.report.Unreleased = s.unreleased()
	s.log.Error("simulation aborted",
		zap.String("run_id", s.report.RunID),
		zap.Int("events", s.report.Events),
		zap.Error(cause))
	return s.report, cause
}

func (s *Simulator) flush() error {
	if s.fills == nil {
		return nil
	}
	return errors.Wrap(s.fills.Flush(), "flush fill log")
}

// SimulateTick advances the clock to the tick, refreshes the tick's book
// and then matches the orders for that symbol whose visibility time has
// come. Other books are left alone.
func (s *Simulator) SimulateTick(t market.Tick) error {
	if err := s.clock.AdvanceTo(t.Time); err != nil {
		return err
	}
	if err := s.UpdateOrderBook(t); err != nil {
		return err
	}
	return s.releaseDue(s.book(t.Symbol))
}

// UpdateOrderBook replaces the synthetic liquidity of the tick's book
// with the tick's quotes. Resting user orders that the new quotes cross
// are filled.
func (s *Simulator) UpdateOrderBook(t market.Tick) error {
	if t.Symbol == "" {
		return errors.Wrap(errs.ErrInvalidArgument, "tick without symbol")
	}
	b := s.book(t.Symbol)

	for _, id := range b.synthetic {
		if _, ok := b.engine.Book().Get(id); !ok {
			continue
		}
		res, err := b.engine.Cancel(id)
		if err != nil {
			return errors.Wrapf(err, "withdraw quote %d", id)
		}
		s.publish(t.Symbol, b.engine, res)
	}
	b.synthetic = b.synthetic[:0]

	bids, asks := t.Bids, t.Asks
	if !t.HasQuotes() && t.Price > 0 {
		if p := t.Price - s.cfg.HalfSpread; p > 0 {
			bids = []orderbook.Quote{{Price: p, Qty: s.cfg.QuoteQty}}
		}
		asks = []orderbook.Quote{{Price: t.Price + s.cfg.HalfSpread, Qty: s.cfg.QuoteQty}}
	}

	for _, q := range bids {
		if err := s.inject(b, t.Symbol, orderbook.Buy, q); err != nil {
			return err
		}
	}
	for _, q := range asks {
		if err := s.inject(b, t.Symbol, orderbook.Sell, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) inject(b *book, symbol string, side orderbook.Side, q orderbook.Quote) error {
	if q.Price <= 0 || q.Qty <= 0 {
		s.log.Debug("skipping empty quote", zap.String("symbol", symbol), zap.Int64("price", q.Price))
		return nil
	}
	s.nextSynthetic++
	o := &orderbook.Order{
		ID:     SyntheticBit | s.nextSynthetic,
		Symbol: symbol,
		Side:   side,
		Type:   orderbook.Limit,
		Price:  q.Price,
		Qty:    q.Qty,
		Time:   s.clock.Now(),
	}
	res, err := b.engine.Submit(o)
	if err != nil {
		return errors.Wrapf(err, "inject %s quote", side)
	}
	if res.Rested {
		b.synthetic = append(b.synthetic, o.ID)
	}
	return s.record(symbol, b.engine, res)
}

// SubmitOrder schedules o to become visible after the latency model's
// delay from the current virtual time.
func (s *Simulator) SubmitOrder(o *orderbook.Order) error {
	if o == nil || o.Symbol == "" || o.Qty <= 0 || (o.Type == orderbook.Limit && o.Price <= 0) {
		return errors.Wrap(errs.ErrInvalidArgument, "malformed order")
	}
	if o.Type == orderbook.Cancel {
		return errors.Wrap(errs.ErrInvalidArgument, "use CancelOrder for cancels")
	}
	if IsSynthetic(o.ID) {
		return errors.Wrapf(errs.ErrInvalidArgument, "order id %d is reserved", o.ID)
	}
	if _, dup := s.owner[o.ID]; dup {
		return errors.Wrapf(errs.ErrDuplicateOrder, "order %d", o.ID)
	}

	now := s.clock.Now()
	o.Time = now
	o.Status = orderbook.Submitted
	s.scheduled++
	p := &pendingOrder{
		order:     o,
		visibleAt: now + s.cfg.Latency.Delay(o, now),
		seq:       s.scheduled,
	}
	heap.Push(&s.book(o.Symbol).pending, p)
	s.waiting[o.ID] = p
	s.owner[o.ID] = o.Symbol
	return nil
}

// CancelOrder withdraws a pending or resting user order.
func (s *Simulator) CancelOrder(id uint64) error {
	if p, ok := s.waiting[id]; ok {
		s.book(p.order.Symbol).pending.remove(p)
		delete(s.waiting, id)
		p.order.Status = orderbook.Cancelled
		s.withdrawn[id] = p.order
		s.report.Cancelled++
		return nil
	}
	if _, ok := s.withdrawn[id]; ok {
		return errors.Wrapf(errs.ErrOrderAlreadyTerminal, "order %d is cancelled", id)
	}
	symbol, ok := s.owner[id]
	if !ok {
		return errors.Wrapf(errs.ErrOrderNotFound, "order %d", id)
	}
	b := s.book(symbol)
	res, err := b.engine.Cancel(id)
	if err != nil {
		return err
	}
	s.report.Cancelled++
	s.publish(symbol, b.engine, res)
	return nil
}

// Status reports a user order's state.
func (s *Simulator) Status(id uint64) (orderbook.Status, bool) {
	if p, ok := s.waiting[id]; ok {
		return p.order.Status, true
	}
	if o, ok := s.withdrawn[id]; ok {
		return o.Status, true
	}
	symbol, ok := s.owner[id]
	if !ok {
		return 0, false
	}
	return s.book(symbol).engine.Status(id)
}

// releaseAll releases due orders on every book, in book creation order.
func (s *Simulator) releaseAll() error {
	for _, sym := range s.symbols {
		if err := s.releaseDue(s.books[sym]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) unreleased() int {
	n := 0
	for _, b := range s.books {
		n += b.pending.Len()
	}
	return n
}

func (s *Simulator) releaseDue(b *book) error {
	now := s.clock.Now()
	for {
		p := b.pending.peek()
		if p == nil || p.visibleAt > now {
			return nil
		}
		heap.Pop(&b.pending)
		delete(s.waiting, p.order.ID)

		o := p.order
		o.Status = orderbook.Acknowledged

		s.userPass = true
		res, err := b.engine.Submit(o)
		s.userPass = false

		if err != nil {
			if errs.KindOf(err) == errs.KindNoLiquidity {
				s.report.Rejected++
				s.log.Debug("market order found no liquidity",
					zap.String("symbol", o.Symbol), zap.Uint64("order_id", o.ID))
				s.publish(o.Symbol, b.engine, res)
				continue
			}
			return errors.Wrapf(err, "release order %d", o.ID)
		}
		if err := s.record(o.Symbol, b.engine, res); err != nil {
			return err
		}
	}
}

// record logs the user-visible fills of a pass. Fills between two
// synthetic quotes are an artefact of a crossed tick and are dropped.
func (s *Simulator) record(symbol string, e *matching.Engine, res matching.Result) error {
	for _, f := range res.Fills {
		if IsSynthetic(f.OrderID) && IsSynthetic(f.CounterOrderID) {
			continue
		}
		if s.fills != nil {
			if err := s.fills.Append(f); err != nil {
				return errors.Wrap(err, "append fill")
			}
		}
		if s.sink != nil {
			if err := s.sink.PublishFill(context.Background(), f); err != nil {
				s.log.Warn("publish fill", zap.Uint64("order_id", f.OrderID), zap.Error(err))
			}
		}
		st := s.report.Symbols[symbol]
		st.add(f)
		s.report.Symbols[symbol] = st
		s.report.Fills++
	}
	s.publish(symbol, e, res)
	return nil
}

func (s *Simulator) publish(symbol string, e *matching.Engine, res matching.Result) {
	if s.feed != nil {
		s.feed.Publish(symbol, e.LastFillSeq(), res)
	}
}

// Capture snapshots one book; ok is false for an unknown symbol.
func (s *Simulator) Capture(symbol string) (snapshot.Snapshot, bool) {
	b, ok := s.books[symbol]
	if !ok {
		return snapshot.Snapshot{}, false
	}
	return snapshot.Capture(b.engine.Book(), b.engine.LastFillSeq(), s.clock.Now()), true
}

// Restore seeds a book before the run starts.
func (s *Simulator) Restore(snap snapshot.Snapshot) error {
	if s.State() != Idle {
		return errors.Wrapf(errs.ErrInvalidArgument, "restore while %s", s.State())
	}
	b := s.book(snap.Symbol)
	if err := snapshot.Restore(snap, b.engine.Book(), func() *orderbook.Order { return new(orderbook.Order) }); err != nil {
		return err
	}
	for _, e := range snap.Orders {
		if IsSynthetic(e.ID) {
			b.synthetic = append(b.synthetic, e.ID)
			if n := e.ID &^ SyntheticBit; n > s.nextSynthetic {
				s.nextSynthetic = n
			}
			continue
		}
		s.owner[e.ID] = snap.Symbol
	}
	return nil
}
