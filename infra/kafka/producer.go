// Package kafka publishes fills and transitions straight to a topic with
// kafka-go. Use it where losing events on a crash is acceptable, e.g.
// simulation runs; the live path goes through the outbox.
package kafka

import (
	"context"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// writer is the part of *kafka.Writer the producer uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is an events.Sink. Messages are keyed by symbol so a
// partition carries one symbol's events in order.
type Producer struct {
	writer writer
	log    *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			BatchTimeout: 10 * time.Millisecond,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					log.Warn("kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
				}
			},
		},
		log: log,
	}
}

func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return errors.Wrap(p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}), "kafka send")
}

func (p *Producer) PublishFill(ctx context.Context, f matching.Fill) error {
	return p.sendEnvelope(ctx, events.FillEnvelope(f))
}

func (p *Producer) PublishTransition(ctx context.Context, t events.Transition) error {
	return p.sendEnvelope(ctx, events.TransitionEnvelope(t))
}

func (p *Producer) sendEnvelope(ctx context.Context, env events.Envelope) error {
	b, err := env.Marshal()
	if err != nil {
		return err
	}
	return p.Send(ctx, env.Key(), b)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
