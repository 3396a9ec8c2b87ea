package kafka

import (
	"context"
	"testing"

	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerKeysBySymbol(t *testing.T) {
	w := &memWriter{}
	p := &Producer{writer: w, log: zap.NewNop()}
	ctx := context.Background()

	require.NoError(t, p.PublishFill(ctx, matching.Fill{Symbol: "EURUSD", OrderID: 1, Qty: 2}))
	require.NoError(t, p.PublishTransition(ctx, events.Transition{
		Symbol: "GBPUSD", OrderID: 2, From: orderbook.Submitted, To: orderbook.Acknowledged,
	}))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "EURUSD", string(w.msgs[0].Key))
	assert.Equal(t, "GBPUSD", string(w.msgs[1].Key))

	env, err := events.Unmarshal(w.msgs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Acknowledged, env.Transition.To)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Producer{writer: &memWriter{err: boom}, log: zap.NewNop()}
	err := p.PublishFill(context.Background(), matching.Fill{Symbol: "X"})
	assert.ErrorIs(t, err, boom)
}
