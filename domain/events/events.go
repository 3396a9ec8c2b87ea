// Package events defines what the execution core reports to the outside
// world: fills and order-state transitions, and the envelope both travel
// in on durable or streaming sinks.
package events

import (
	"context"
	"encoding/json"

	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
)

// Transition is one order-state change.
type Transition struct {
	OrderID uint64           `json:"order_id"`
	Symbol  string           `json:"symbol"`
	From    orderbook.Status `json:"from"`
	To      orderbook.Status `json:"to"`
	Filled  int64            `json:"filled"`
	Reason  string           `json:"reason,omitempty"`
	Time    int64            `json:"time"`
}

// Sink receives fills and transitions. Implementations must not block the
// caller for long; the executor calls them from its shard workers.
type Sink interface {
	PublishFill(ctx context.Context, f matching.Fill) error
	PublishTransition(ctx context.Context, t Transition) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishFill(context.Context, matching.Fill) error    { return nil }
func (Nop) PublishTransition(context.Context, Transition) error { return nil }

// Multi fans out to every sink and returns the first error.
type Multi []Sink

func (m Multi) PublishFill(ctx context.Context, f matching.Fill) error {
	var first error
	for _, s := range m {
		if err := s.PublishFill(ctx, f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) PublishTransition(ctx context.Context, t Transition) error {
	var first error
	for _, s := range m {
		if err := s.PublishTransition(ctx, t); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type Kind string

const (
	KindFill       Kind = "fill"
	KindTransition Kind = "transition"
)

// Envelope is the JSON wire form shared by the outbox and the Kafka
// producers.
type Envelope struct {
	Kind       Kind           `json:"kind"`
	Symbol     string         `json:"symbol"`
	OrderID    uint64         `json:"order_id"`
	Fill       *matching.Fill `json:"fill,omitempty"`
	Transition *Transition    `json:"transition,omitempty"`
}

func FillEnvelope(f matching.Fill) Envelope {
	return Envelope{Kind: KindFill, Symbol: f.Symbol, OrderID: f.OrderID, Fill: &f}
}

func TransitionEnvelope(t Transition) Envelope {
	return Envelope{Kind: KindTransition, Symbol: t.Symbol, OrderID: t.OrderID, Transition: &t}
}

// Key partitions by symbol so per-symbol order survives the broker.
func (e Envelope) Key() []byte {
	return []byte(e.Symbol)
}

func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	return b, errors.Wrap(err, "marshal envelope")
}

func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, errors.Wrap(err, "unmarshal envelope")
	}
	return e, nil
}
