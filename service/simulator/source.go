package simulator

import (
	"context"
	"io"

	"github.com/Rizwan-Beg/fxharry/domain/market"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
)

type EventKind uint8

const (
	EventTick EventKind = iota + 1
	EventOrder
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventOrder:
		return "order"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event is one input of a run. Time must be nondecreasing across the
// sequence a TickSource yields.
type Event struct {
	Kind     EventKind
	Time     int64
	Tick     market.Tick
	Order    *orderbook.Order
	CancelID uint64
}

func TickEvent(t market.Tick) Event {
	return Event{Kind: EventTick, Time: t.Time, Tick: t}
}

func OrderEvent(at int64, o *orderbook.Order) Event {
	return Event{Kind: EventOrder, Time: at, Order: o}
}

func CancelEvent(at int64, id uint64) Event {
	return Event{Kind: EventCancel, Time: at, CancelID: id}
}

// TickSource yields a lazy, finite event sequence and io.EOF at its end.
type TickSource interface {
	Next(ctx context.Context) (Event, error)
}

// SliceSource replays a fixed slice.
type SliceSource struct {
	events []Event
	pos    int
}

func NewSliceSource(events ...Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}
