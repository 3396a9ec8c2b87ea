// Package broadcaster ships outbox entries to Kafka with sarama and
// acknowledges them once the broker has them.
package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/infra/outbox"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Broadcaster struct {
	outbox   *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger

	stop context.CancelFunc
	done chan struct{}
}

// NewSyncProducer builds the producer the broadcaster expects: every
// replica acknowledges, hashed by key.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	p, err := sarama.NewSyncProducer(brokers, cfg)
	return p, errors.Wrap(err, "sarama producer")
}

func New(ob *outbox.Outbox, producer sarama.SyncProducer, topic string, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{outbox: ob, producer: producer, topic: topic, log: log}
}

// Start replays the outbox every interval until ctx ends or Close is
// called. Call it at most once.
func (b *Broadcaster) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	b.log.Info("broadcaster started", zap.String("topic", b.topic))

	ctx, b.stop = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.ReplayOnce(ctx); err != nil {
					b.log.Warn("broadcast pass", zap.Error(err))
				}
			}
		}
	}()
}

// errStop ends a pass early without reporting failure.
var errStop = errors.New("stop")

// ReplayOnce sends pending entries in order and stops at the first
// failure so the topic never sees them out of order. It returns how many
// were acknowledged.
func (b *Broadcaster) ReplayOnce(ctx context.Context) (int, error) {
	sent := 0
	var sendErr error
	err := b.outbox.ScanPending(func(e outbox.Entry) error {
		if ctx.Err() != nil {
			return errStop
		}
		if err := b.outbox.MarkSent(e.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(e.Payload),
		}
		if env, err := events.Unmarshal(e.Payload); err == nil {
			msg.Key = sarama.ByteEncoder(env.Key())
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			sendErr = errors.Wrapf(err, "send outbox %d", e.Seq)
			if merr := b.outbox.MarkFailed(e.Seq); merr != nil {
				return merr
			}
			return errStop
		}
		if err := b.outbox.MarkAcked(e.Seq); err != nil {
			return err
		}
		sent++
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return sent, err
	}
	if sent > 0 {
		if _, err := b.outbox.Prune(); err != nil {
			return sent, err
		}
	}
	return sent, sendErr
}

// Close stops the replay loop and waits for its pass to finish before
// closing the producer, so the outbox can be closed after it.
func (b *Broadcaster) Close() error {
	if b.stop != nil {
		b.stop()
		<-b.done
	}
	return b.producer.Close()
}
