// Package executor is the order entry point. Submissions are validated on
// the caller's goroutine and handed through a lock-free ring to the
// single worker that owns the symbol's shard. Results arrive
// asynchronously on the order's handle.
package executor

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/market"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/infra/memory"
	"github.com/Rizwan-Beg/fxharry/infra/metrics"
	"github.com/Rizwan-Beg/fxharry/infra/sequence"
	"github.com/Rizwan-Beg/fxharry/infra/venue"
	"github.com/Rizwan-Beg/fxharry/service/marketdata"
	"github.com/Rizwan-Beg/fxharry/snapshot"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// VenueAdapter is the live venue contract.
type VenueAdapter = venue.Adapter

type Route uint8

const (
	RouteSimulated Route = iota
	RouteLive
)

func ParseRoute(s string) (Route, error) {
	switch s {
	case "simulated", "":
		return RouteSimulated, nil
	case "live":
		return RouteLive, nil
	}
	return 0, errors.Wrapf(errs.ErrInvalidArgument, "route %q", s)
}

func (r Route) String() string {
	if r == RouteLive {
		return "live"
	}
	return "simulated"
}

type Config struct {
	Route         Route
	Shards        int
	QueueSize     uint64
	UpdateBuffer  int
	SnapshotDepth int
	VenueTimeout  time.Duration
	Risk          RiskLimits
	// RetainTerminal is how many terminal orders each shard keeps
	// answerable (AlreadyTerminal on cancel) before forgetting the oldest.
	RetainTerminal int
}

// Request is a new order as the caller describes it.
type Request struct {
	Symbol string
	Side   orderbook.Side
	Type   orderbook.OrderType
	Price  int64
	Qty    int64
}

func (r Request) validate() error {
	switch {
	case r.Symbol == "":
		return errors.Wrap(errs.ErrInvalidArgument, "empty symbol")
	case r.Qty <= 0:
		return errors.Wrapf(errs.ErrInvalidArgument, "quantity %d", r.Qty)
	case r.Type == orderbook.Limit && r.Price <= 0:
		return errors.Wrapf(errs.ErrInvalidArgument, "price %d", r.Price)
	case r.Type != orderbook.Limit && r.Type != orderbook.Market:
		return errors.Wrapf(errs.ErrInvalidArgument, "order type %s", r.Type)
	case r.Side != orderbook.Buy && r.Side != orderbook.Sell:
		return errors.Wrapf(errs.ErrInvalidArgument, "side %d", r.Side)
	}
	return nil
}

type Option func(*Executor)

func WithVenue(v VenueAdapter) Option {
	return func(e *Executor) { e.venue = v }
}

func WithSink(s events.Sink) Option {
	return func(e *Executor) { e.sink = s }
}

func WithFeed(f *marketdata.Feed) Option {
	return func(e *Executor) { e.feed = f }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.log = l }
}

func WithSlippage(m market.SlippageModel) Option {
	return func(e *Executor) { e.slippage = m }
}

func WithSequencer(s *sequence.Sequencer) Option {
	return func(e *Executor) { e.ids = s }
}

// WithClock sets the nanosecond clock stamped on fills and transitions.
func WithClock(now func() int64) Option {
	return func(e *Executor) { e.now = now }
}

type Executor struct {
	cfg      Config
	log      *zap.Logger
	venue    VenueAdapter
	sink     events.Sink
	feed     *marketdata.Feed
	metrics  *metrics.Metrics
	slippage market.SlippageModel
	ids      *sequence.Sequencer
	now      func() int64
	pool     *memory.Pool[orderbook.Order]

	shards  []*shard
	handles sync.Map // uint64 -> *OrderHandle
	views   sync.Map // symbol -> *snapshot.Publisher

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

func New(cfg Config, opts ...Option) (*Executor, error) {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
	if cfg.QueueSize&(cfg.QueueSize-1) != 0 {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "queue size %d is not a power of two", cfg.QueueSize)
	}
	if cfg.UpdateBuffer < 1 {
		cfg.UpdateBuffer = 8
	}
	if cfg.SnapshotDepth < 1 {
		cfg.SnapshotDepth = 10
	}
	if cfg.VenueTimeout <= 0 {
		cfg.VenueTimeout = 2 * time.Second
	}
	if cfg.RetainTerminal < 1 {
		cfg.RetainTerminal = 1 << 16
	}

	e := &Executor{
		cfg:      cfg,
		log:      zap.NewNop(),
		sink:     events.Nop{},
		slippage: market.NoSlippage{},
		now:      func() int64 { return time.Now().UnixNano() },
		pool:     memory.NewPool(func(o *orderbook.Order) { o.Reset() }),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.Discard()
	}
	if e.ids == nil {
		e.ids = sequence.New(0)
	}
	if cfg.Route == RouteLive && e.venue == nil {
		return nil, errors.Wrap(errs.ErrInvalidArgument, "live route without a venue adapter")
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.shards = make([]*shard, cfg.Shards)
	for i := range e.shards {
		e.shards[i] = newShard(i, e)
	}
	return e, nil
}

// Start launches one worker per shard.
func (e *Executor) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	for _, s := range e.shards {
		e.wg.Add(1)
		go func(s *shard) {
			defer e.wg.Done()
			s.run(e.ctx)
		}(s)
	}
	e.log.Info("executor started",
		zap.String("route", e.cfg.Route.String()),
		zap.Int("shards", len(e.shards)))
}

// Close stops the workers. Queued requests are rejected with ErrShutdown;
// resting orders stay where they are.
func (e *Executor) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()
	e.wg.Wait()
	if !e.started.Load() {
		for _, s := range e.shards {
			s.shutdown()
		}
	}
	e.log.Info("executor stopped")
	return nil
}

func (e *Executor) shardFor(symbol string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}

// ExecuteOrder submits an order. price is ignored for market orders.
func (e *Executor) ExecuteOrder(ctx context.Context, symbol string, price, qty int64, side orderbook.Side, typ orderbook.OrderType) (*OrderHandle, error) {
	return e.Submit(ctx, Request{Symbol: symbol, Side: side, Type: typ, Price: price, Qty: qty})
}

// Submit validates r and queues it. Malformed requests fail here with
// ErrInvalidArgument; everything the market decides arrives on the
// handle. A risk breach returns a handle that is already Rejected.
func (e *Executor) Submit(ctx context.Context, r Request) (*OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.closed.Load() {
		return nil, errs.ErrShutdown
	}
	if err := r.validate(); err != nil {
		e.metrics.OrdersRejected.WithLabelValues(errs.KindOf(err).String()).Inc()
		return nil, err
	}

	h := newHandle(e.ids.Next(), r, e.cfg.UpdateBuffer)
	s := e.shardFor(r.Symbol)
	if err := e.cfg.Risk.check(r, e.referencePrice(r)); err != nil {
		// the sink may do I/O; the worker publishes it
		t, _ := e.record(h, orderbook.Rejected, err)
		h.finish(err)
		e.handles.Store(h.ID, h)
		if !s.enqueue(msg{kind: msgEmit, handle: h, trans: t}) {
			go e.emit(t)
		}
		return h, nil
	}

	if !s.enqueue(msg{kind: msgSubmit, handle: h}) {
		e.metrics.OrdersRejected.WithLabelValues(errs.KindQueueFull.String()).Inc()
		return nil, errors.Wrapf(errs.ErrQueueFull, "shard %d", s.id)
	}
	e.handles.Store(h.ID, h)
	e.metrics.OrdersSubmitted.WithLabelValues(e.cfg.Route.String()).Inc()
	return h, nil
}

// referencePrice is the opposite touch for market orders, from the last
// published view.
func (e *Executor) referencePrice(r Request) int64 {
	if r.Type != orderbook.Market {
		return r.Price
	}
	v := e.Book(r.Symbol)
	var q orderbook.Quote
	var ok bool
	if r.Side == orderbook.Buy {
		q, ok = v.BestAsk()
	} else {
		q, ok = v.BestBid()
	}
	if !ok {
		return 0
	}
	return q.Price
}

// transition moves h to st and tells everyone who listens. Only the
// shard worker owning h may call it.
func (e *Executor) transition(h *OrderHandle, st orderbook.Status, cause error) {
	t, ok := e.record(h, st, cause)
	if !ok {
		return
	}
	e.emit(t)
	if st.Terminal() {
		h.finish(cause)
	}
}

// record applies a transition to h and the metrics without touching the
// sink. false means h was already in st.
func (e *Executor) record(h *OrderHandle, st orderbook.Status, cause error) (events.Transition, bool) {
	from := h.Status()
	if from == st {
		return events.Transition{}, false
	}
	h.status.Store(uint32(st))
	t := events.Transition{
		OrderID: h.ID,
		Symbol:  h.Symbol,
		From:    from,
		To:      st,
		Filled:  h.Filled(),
		Time:    e.now(),
	}
	if cause != nil {
		t.Reason = cause.Error()
	}
	h.publish(t)
	e.metrics.Transitions.WithLabelValues(st.String()).Inc()
	if st == orderbook.Rejected {
		e.metrics.OrdersRejected.WithLabelValues(errs.KindOf(cause).String()).Inc()
	}
	return t, true
}

func (e *Executor) emit(t events.Transition) {
	if err := e.sink.PublishTransition(e.ctx, t); err != nil {
		e.log.Warn("publish transition", zap.Uint64("order_id", t.OrderID), zap.Error(err))
	}
}

// CancelOrder asks the owning worker to cancel id. Unknown ids fail with
// ErrOrderNotFound and terminal ones with ErrOrderAlreadyTerminal right
// away; otherwise the outcome arrives on the ticket.
func (e *Executor) CancelOrder(ctx context.Context, id uint64) (*CancelTicket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.closed.Load() {
		return nil, errs.ErrShutdown
	}
	h, ok := e.Handle(id)
	if !ok {
		return nil, errors.Wrapf(errs.ErrOrderNotFound, "order %d", id)
	}
	if st := h.Status(); st.Terminal() {
		return nil, errors.Wrapf(errs.ErrOrderAlreadyTerminal, "order %d is %s", id, st)
	}

	t := newTicket(id)
	first := h.cancelIntent.CompareAndSwap(false, true)
	if !e.shardFor(h.Symbol).enqueue(msg{kind: msgCancel, handle: h, ticket: t}) {
		if first {
			h.cancelIntent.Store(false)
		}
		return nil, errors.Wrapf(errs.ErrQueueFull, "cancel %d", id)
	}
	return t, nil
}

// ReportExecution feeds a venue fill for a live order to its worker.
func (e *Executor) ReportExecution(x venue.Execution) error {
	h, ok := e.Handle(x.OrderID)
	if !ok {
		return errors.Wrapf(errs.ErrOrderNotFound, "execution for order %d", x.OrderID)
	}
	if x.Qty <= 0 {
		return errors.Wrapf(errs.ErrInvalidArgument, "execution qty %d", x.Qty)
	}
	return e.shardFor(h.Symbol).post(e.ctx, msg{kind: msgExecution, handle: h, exec: x})
}

func (e *Executor) Handle(id uint64) (*OrderHandle, bool) {
	v, ok := e.handles.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*OrderHandle), true
}

// Forget drops a terminal order from the registry and, through its
// worker, from the matching engine; later cancels of id report
// ErrOrderNotFound. Working orders are left alone.
func (e *Executor) Forget(id uint64) error {
	h, ok := e.Handle(id)
	if !ok || !h.Status().Terminal() {
		return nil
	}
	e.handles.Delete(id)
	if !e.shardFor(h.Symbol).enqueue(msg{kind: msgForget, handle: h}) {
		return errors.Wrapf(errs.ErrQueueFull, "forget %d", id)
	}
	return nil
}

// Book returns the last published view of symbol, or nil.
func (e *Executor) Book(symbol string) *snapshot.View {
	if p, ok := e.views.Load(symbol); ok {
		return p.(*snapshot.Publisher).Load()
	}
	return nil
}

func (e *Executor) publisher(symbol string) *snapshot.Publisher {
	p, _ := e.views.LoadOrStore(symbol, &snapshot.Publisher{})
	return p.(*snapshot.Publisher)
}

// Capture asks the owning worker for a durable snapshot of symbol.
func (e *Executor) Capture(ctx context.Context, symbol string) (snapshot.Snapshot, error) {
	reply := make(chan snapshot.Snapshot, 1)
	if err := e.shardFor(symbol).post(ctx, msg{kind: msgCapture, symbol: symbol, reply: reply}); err != nil {
		return snapshot.Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return snapshot.Snapshot{}, ctx.Err()
	}
}

// Restore seeds a book before Start.
func (e *Executor) Restore(s snapshot.Snapshot) error {
	if e.started.Load() {
		return errors.Wrap(errs.ErrInvalidArgument, "restore after start")
	}
	e.ids.Observe(s.MaxOrderID())
	return e.shardFor(s.Symbol).restore(s)
}

func shardLabel(i int) string { return strconv.Itoa(i) }
