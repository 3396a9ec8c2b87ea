package executor

import (
	"context"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/infra/memory"
	"github.com/Rizwan-Beg/fxharry/infra/metrics"
	"github.com/Rizwan-Beg/fxharry/infra/venue"
	"github.com/Rizwan-Beg/fxharry/snapshot"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type msgKind uint8

const (
	msgSubmit msgKind = iota
	msgCancel
	msgExecution
	msgVenueAck
	msgVenueCancel
	msgCapture
	msgEmit
	msgForget
)

type msg struct {
	kind    msgKind
	handle  *OrderHandle
	ticket  *CancelTicket
	tickets []*CancelTicket
	trans   events.Transition
	exec    venue.Execution
	ack     venue.Ack
	err     error
	symbol  string
	reply   chan snapshot.Snapshot
}

// book is one symbol owned by a shard.
type book struct {
	engine *matching.Engine
	orders map[uint64]*orderbook.Order
	view   *snapshot.Publisher
}

// shard is a single matching worker. Caller submissions come through the
// ring; venue callbacks and control requests come through the inbox.
type shard struct {
	id    int
	e     *Executor
	log   *zap.Logger
	ring  *memory.Ring[msg]
	wake  chan struct{}
	inbox chan msg
	depth prometheus.Gauge

	books   map[string]*book
	live    map[uint64]*OrderHandle
	liveSeq uint64
	// retired holds terminal handles oldest first, at most
	// cfg.RetainTerminal of them.
	retired []*OrderHandle
}

func newShard(id int, e *Executor) *shard {
	return &shard{
		id:    id,
		e:     e,
		log:   e.log.With(zap.Int("shard", id)),
		ring:  memory.NewRing[msg](e.cfg.QueueSize),
		wake:  make(chan struct{}, 1),
		inbox: make(chan msg, 256),
		depth: e.metrics.QueueDepth.WithLabelValues(shardLabel(id)),
		books: make(map[string]*book),
		live:  make(map[uint64]*OrderHandle),
	}
}

// enqueue is safe from any goroutine. false means the ring is full.
func (s *shard) enqueue(m msg) bool {
	if !s.ring.Enqueue(m) {
		return false
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// post delivers m through the inbox, blocking until there is room.
func (s *shard) post(ctx context.Context, m msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.e.ctx.Done():
		return errs.ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *shard) run(ctx context.Context) {
	for {
		s.drain()
		select {
		case <-s.wake:
		case m := <-s.inbox:
			s.dispatch(m)
		case <-ctx.Done():
			s.shutdown()
			return
		}
	}
}

func (s *shard) drain() {
	for {
		m, ok := s.ring.Dequeue()
		if !ok {
			break
		}
		s.dispatch(m)
	}
	s.depth.Set(float64(s.ring.Len()))
}

func (s *shard) shutdown() {
	for {
		m, ok := s.ring.Dequeue()
		if !ok {
			break
		}
		switch m.kind {
		case msgSubmit:
			s.transition(m.handle, orderbook.Rejected, errs.ErrShutdown)
		case msgCancel:
			m.ticket.resolve(errs.ErrShutdown)
		case msgEmit:
			s.e.emit(m.trans)
		case msgForget:
			s.forget(m.handle)
		}
	}
	s.depth.Set(0)
}

func (s *shard) dispatch(m msg) {
	switch m.kind {
	case msgSubmit:
		if s.e.cfg.Route == RouteLive {
			s.submitLive(m.handle)
		} else {
			s.submit(m.handle)
		}
	case msgCancel:
		s.cancel(m.handle, m.ticket)
	case msgExecution:
		s.execution(m.handle, m.exec)
	case msgVenueAck:
		s.venueAck(m.handle, m.ack, m.err)
	case msgVenueCancel:
		s.venueCancelled(m.handle, m.tickets, m.ack, m.err)
	case msgCapture:
		b := s.bookFor(m.symbol)
		m.reply <- snapshot.Capture(b.engine.Book(), b.engine.LastFillSeq(), s.e.now())
	case msgEmit:
		s.e.emit(m.trans)
		s.retire(m.handle)
	case msgForget:
		s.forget(m.handle)
	}
}

func (s *shard) bookFor(symbol string) *book {
	if b, ok := s.books[symbol]; ok {
		return b
	}
	b := &book{
		engine: matching.New(orderbook.NewOrderBook(symbol),
			matching.WithSlippage(s.e.slippage),
			matching.WithClock(s.e.now),
			matching.WithIntentCheck(s.intended),
			matching.WithLogger(s.log),
		),
		orders: make(map[uint64]*orderbook.Order),
		view:   s.e.publisher(symbol),
	}
	s.books[symbol] = b
	s.publish(b, matching.Result{})
	return b
}

func (s *shard) intended(id uint64) bool {
	h, ok := s.live[id]
	return ok && h.cancelIntent.Load()
}

// transition also retires h from the worker once it is terminal. Cancel
// tickets still waiting on h lose the race.
func (s *shard) transition(h *OrderHandle, st orderbook.Status, cause error) {
	s.e.transition(h, st, cause)
	if !st.Terminal() {
		return
	}
	delete(s.live, h.ID)
	for _, t := range h.pending {
		t.resolve(errors.Wrapf(errs.ErrOrderAlreadyTerminal, "order %d is %s", h.ID, st))
	}
	h.pending = nil
	s.retire(h)
}

// retire queues a terminal handle for forgetting once the shard holds
// more than cfg.RetainTerminal of them.
func (s *shard) retire(h *OrderHandle) {
	s.retired = append(s.retired, h)
	for len(s.retired) > s.e.cfg.RetainTerminal {
		old := s.retired[0]
		s.retired[0] = nil
		s.retired = s.retired[1:]
		s.e.handles.CompareAndDelete(old.ID, old)
		s.forget(old)
	}
}

// forget drops the engine's memory of a terminal order.
func (s *shard) forget(h *OrderHandle) {
	if b, ok := s.books[h.Symbol]; ok {
		b.engine.Forget(h.ID)
	}
}

func (s *shard) submit(h *OrderHandle) {
	start := time.Now()
	defer metrics.Since(s.e.metrics.PassLatency, start)

	b := s.bookFor(h.Symbol)
	s.live[h.ID] = h
	if h.cancelIntent.Load() {
		h.intentCancelled = true
		s.transition(h, orderbook.Cancelled, nil)
		return
	}

	o := s.e.pool.Get()
	*o = orderbook.Order{
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
	if o.Type == orderbook.Market {
		o.Price = 0
	}

	res, err := b.engine.Submit(o)
	s.fills(res.Fills)
	s.counterparties(b, res.Updates)
	switch {
	case err != nil:
		s.transition(h, orderbook.Rejected, err)
	default:
		h.filled.Store(o.Filled)
		s.transition(h, orderbook.Acknowledged, nil)
		if o.Status == orderbook.Cancelled && o.Filled > 0 {
			s.transition(h, orderbook.PartiallyFilled, nil)
		}
		s.transition(h, o.Status, nil)
	}
	if res.Rested {
		b.orders[o.ID] = o
	} else {
		s.e.pool.Put(o)
	}
	s.publish(b, res)
}

// counterparties applies the resting side of a pass to the handles.
func (s *shard) counterparties(b *book, ups []matching.Update) {
	for _, u := range ups {
		if h, ok := s.live[u.OrderID]; ok {
			h.filled.Store(u.Filled)
			// resting orders only end Cancelled by request
			if u.Status == orderbook.Cancelled {
				h.intentCancelled = true
			}
			s.transition(h, u.Status, nil)
		}
		if u.Status.Terminal() {
			if o, ok := b.orders[u.OrderID]; ok {
				delete(b.orders, u.OrderID)
				s.e.pool.Put(o)
			}
		}
	}
}

func (s *shard) fills(fs []matching.Fill) {
	for _, f := range fs {
		s.e.metrics.Fills.WithLabelValues(f.Symbol).Inc()
		s.e.metrics.FilledQty.WithLabelValues(f.Symbol).Add(float64(f.Qty))
		if err := s.e.sink.PublishFill(s.e.ctx, f); err != nil {
			s.log.Warn("publish fill", zap.Uint64("order_id", f.OrderID), zap.Error(err))
		}
	}
}

func (s *shard) publish(b *book, res matching.Result) {
	seq := b.engine.LastFillSeq()
	b.view.Publish(snapshot.NewView(b.engine.Book(), seq, s.e.now(), s.e.cfg.SnapshotDepth))
	if s.e.feed != nil {
		s.e.feed.Publish(b.engine.Book().Symbol, seq, res)
	}
}

func (s *shard) cancel(h *OrderHandle, t *CancelTicket) {
	if _, ok := s.live[h.ID]; !ok {
		st := h.Status()
		switch {
		case st == orderbook.Cancelled && h.intentCancelled && !h.cancelAcked:
			// a pass honoured the intent before this request arrived
			h.cancelAcked = true
			t.resolve(nil)
		case st.Terminal():
			t.resolve(errors.Wrapf(errs.ErrOrderAlreadyTerminal, "order %d is %s", h.ID, st))
		default:
			// submit still in the ring behind us; it will see the intent
			h.cancelAcked = true
			t.resolve(nil)
		}
		return
	}

	if s.e.cfg.Route == RouteLive {
		s.cancelLive(h, t)
		return
	}
	b := s.bookFor(h.Symbol)
	res, err := b.engine.Cancel(h.ID)
	if err != nil {
		t.resolve(err)
		return
	}
	h.cancelAcked = true
	s.counterparties(b, res.Updates)
	t.resolve(nil)
	s.publish(b, res)
}

// restore seeds books from a snapshot and tracks each resting order as a
// live handle. Only called before the worker starts.
func (s *shard) restore(snap snapshot.Snapshot) error {
	b := s.bookFor(snap.Symbol)
	if err := snapshot.Restore(snap, b.engine.Book(), s.e.pool.Get); err != nil {
		return err
	}
	b.engine.Book().WalkOrders(func(o *orderbook.Order) {
		h := newHandle(o.ID, Request{
			Symbol: o.Symbol, Side: o.Side, Type: o.Type, Price: o.Price, Qty: o.Qty,
		}, s.e.cfg.UpdateBuffer)
		h.status.Store(uint32(o.Status))
		h.filled.Store(o.Filled)
		b.orders[o.ID] = o
		s.live[o.ID] = h
		s.e.handles.Store(o.ID, h)
	})
	s.publish(b, matching.Result{})
	s.log.Info("book restored",
		zap.String("symbol", snap.Symbol),
		zap.Int("orders", len(snap.Orders)),
		zap.Uint64("seq", snap.Seq))
	return nil
}
