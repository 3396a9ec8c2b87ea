package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Rizwan-Beg/fxharry/service/executor"
	"github.com/Rizwan-Beg/fxharry/service/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fixture struct {
	client *Client
	feed   *marketdata.Feed
}

func setup(t *testing.T) fixture {
	t.Helper()
	feed := marketdata.NewFeed()
	exec, err := executor.New(executor.Config{}, executor.WithFeed(feed))
	require.NoError(t, err)
	exec.Start()
	t.Cleanup(func() { _ = exec.Close() })

	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(zap.NewNop())))
	NewServer(exec, feed, nil).Register(g)
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return fixture{client: NewClient(cc), feed: feed}
}

func code(err error) codes.Code {
	return status.Code(err)
}

func TestOrderRoundTrip(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := f.client.ExecuteOrder(ctx, map[string]any{
		"symbol": "EURUSD", "side": "sell", "type": "limit", "price": 10, "qty": 5,
	})
	require.NoError(t, err)
	id := out.Fields["order_id"].GetStringValue()
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		o, err := f.client.GetOrder(ctx, map[string]any{"order_id": id})
		return err == nil && o.Fields["status"].GetStringValue() == "acknowledged"
	}, 2*time.Second, 5*time.Millisecond)

	book, err := f.client.GetBook(ctx, map[string]any{"symbol": "EURUSD"})
	require.NoError(t, err)
	asks := book.Fields["asks"].GetListValue().GetValues()
	require.Len(t, asks, 1)
	assert.Equal(t, float64(5), asks[0].GetStructValue().Fields["qty"].GetNumberValue())

	res, err := f.client.CancelOrder(ctx, map[string]any{"order_id": id})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", res.Fields["status"].GetStringValue())

	_, err = f.client.CancelOrder(ctx, map[string]any{"order_id": id})
	assert.Equal(t, codes.FailedPrecondition, code(err))
}

func TestErrorCodes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.client.ExecuteOrder(ctx, map[string]any{"symbol": "EURUSD", "side": "up", "qty": 1, "price": 1})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = f.client.ExecuteOrder(ctx, map[string]any{"symbol": "EURUSD", "side": "buy", "qty": 0, "price": 1})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = f.client.GetOrder(ctx, map[string]any{"order_id": 424242})
	assert.Equal(t, codes.NotFound, code(err))

	_, err = f.client.CancelOrder(ctx, map[string]any{"order_id": "abc"})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = f.client.GetBook(ctx, map[string]any{"symbol": "NOPE"})
	assert.Equal(t, codes.NotFound, code(err))
}

func TestStreamBook(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := f.client.StreamBook(ctx, "GBPUSD")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.feed.Len() == 1 }, 2*time.Second, time.Millisecond)

	_, err = f.client.ExecuteOrder(ctx, map[string]any{
		"symbol": "GBPUSD", "side": "buy", "price": 7, "qty": 2,
	})
	require.NoError(t, err)

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "GBPUSD", msg.Fields["symbol"].GetStringValue())
	deltas := msg.Fields["deltas"].GetListValue().GetValues()
	require.Len(t, deltas, 1)
	assert.Equal(t, "buy", deltas[0].GetStructValue().Fields["side"].GetStringValue())
}
