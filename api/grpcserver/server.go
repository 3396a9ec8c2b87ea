// Package grpcserver exposes the executor over gRPC. Messages are
// google.protobuf.Struct values, so clients need no generated stubs;
// the field names are documented on each method.
package grpcserver

import (
	"context"
	"strconv"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/service/executor"
	"github.com/Rizwan-Beg/fxharry/service/marketdata"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "fxh.v1.Executor"

// ExecutorServer is the service contract registered with grpc.
type ExecutorServer interface {
	ExecuteOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBook(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	exec *executor.Executor
	feed *marketdata.Feed
	log  *zap.Logger
}

// NewServer adapts exec. feed may be nil, in which case StreamBook
// fails with Unimplemented.
func NewServer(exec *executor.Executor, feed *marketdata.Feed, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{exec: exec, feed: feed, log: log}
}

// Register adds the service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// -------------------- Commands --------------------

// ExecuteOrder takes symbol, side, type, price and qty and returns
// order_id and status. A risk rejection comes back as status
// "rejected" with a reason, not as an RPC error.
func (s *Server) ExecuteOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	side, err := orderbook.ParseSide(str(in, "side"))
	if err != nil {
		return nil, toStatus(err)
	}
	typ, err := orderbook.ParseOrderType(str(in, "type"))
	if err != nil {
		return nil, toStatus(err)
	}
	h, err := s.exec.Submit(ctx, executor.Request{
		Symbol: str(in, "symbol"),
		Side:   side,
		Type:   typ,
		Price:  num(in, "price"),
		Qty:    num(in, "qty"),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return handleStruct(h)
}

// CancelOrder takes order_id and waits for the owning worker's answer.
func (s *Server) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := orderID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	t, err := s.exec.CancelOrder(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := t.Wait(ctx); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"order_id": strconv.FormatUint(id, 10),
		"status":   orderbook.Cancelled.String(),
	})
}

// -------------------- Queries --------------------

func (s *Server) GetOrder(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := orderID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	h, ok := s.exec.Handle(id)
	if !ok {
		return nil, toStatus(errors.Wrapf(errs.ErrOrderNotFound, "order %d", id))
	}
	return handleStruct(h)
}

// GetBook takes symbol and returns bids and asks, best first, as lists
// of {price, qty}.
func (s *Server) GetBook(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sym := str(in, "symbol")
	v := s.exec.Book(sym)
	if v == nil {
		return nil, status.Errorf(codes.NotFound, "no book for %q", sym)
	}
	return structpb.NewStruct(map[string]any{
		"symbol":  v.Symbol,
		"seq":     float64(v.Seq),
		"time":    float64(v.Time),
		"bids":    quotes(v.Depth.Bids),
		"asks":    quotes(v.Depth.Asks),
		"resting": v.Resting,
	})
}

// StreamBook takes symbol and streams one message per matching pass.
func (s *Server) StreamBook(in *structpb.Struct, stream grpc.ServerStream) error {
	if s.feed == nil {
		return status.Error(codes.Unimplemented, "no market-data feed")
	}
	sub := s.feed.SubscribeSymbol(str(in, "symbol"), 64)
	defer s.feed.Unsubscribe(sub)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case u, ok := <-sub.C():
			if !ok {
				return nil
			}
			out, err := updateStruct(u)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

// -------------------- Converters --------------------

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func num(in *structpb.Struct, key string) int64 {
	return int64(in.GetFields()[key].GetNumberValue())
}

// orderID accepts a decimal string or a number.
func orderID(in *structpb.Struct) (uint64, error) {
	v, ok := in.GetFields()["order_id"]
	if !ok {
		return 0, errors.Wrap(errs.ErrInvalidArgument, "order_id is required")
	}
	if s, isStr := v.GetKind().(*structpb.Value_StringValue); isStr {
		id, err := strconv.ParseUint(s.StringValue, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(errs.ErrInvalidArgument, "order_id %q", s.StringValue)
		}
		return id, nil
	}
	return uint64(v.GetNumberValue()), nil
}

func handleStruct(h *executor.OrderHandle) (*structpb.Struct, error) {
	m := map[string]any{
		"order_id":  strconv.FormatUint(h.ID, 10),
		"symbol":    h.Symbol,
		"side":      h.Side.String(),
		"type":      h.Type.String(),
		"status":    h.Status().String(),
		"filled":    h.Filled(),
		"remaining": h.Remaining(),
	}
	if err := h.Err(); err != nil {
		m["reason"] = err.Error()
	}
	return structpb.NewStruct(m)
}

func quotes(qs []orderbook.Quote) []any {
	out := make([]any, 0, len(qs))
	for _, q := range qs {
		out = append(out, map[string]any{"price": q.Price, "qty": q.Qty})
	}
	return out
}

func updateStruct(u marketdata.Update) (*structpb.Struct, error) {
	deltas := make([]any, 0, len(u.Deltas))
	for _, d := range u.Deltas {
		deltas = append(deltas, map[string]any{
			"side": d.Side.String(), "price": d.Price, "qty": d.Qty,
		})
	}
	fills := make([]any, 0, len(u.Fills))
	for _, f := range u.Fills {
		fills = append(fills, map[string]any{
			"price": f.ExecPrice, "qty": f.Qty, "side": f.Side.String(), "time": f.Time,
		})
	}
	return structpb.NewStruct(map[string]any{
		"symbol": u.Symbol,
		"seq":    float64(u.Seq),
		"deltas": deltas,
		"fills":  fills,
	})
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	var c codes.Code
	switch errs.KindOf(err) {
	case errs.KindInvalidArgument, errs.KindInvalidPrice, errs.KindInvalidQuantity:
		c = codes.InvalidArgument
	case errs.KindOrderNotFound:
		c = codes.NotFound
	case errs.KindOrderAlreadyTerminal, errs.KindRiskLimit, errs.KindNoLiquidity:
		c = codes.FailedPrecondition
	case errs.KindDuplicateOrder:
		c = codes.AlreadyExists
	case errs.KindQueueFull:
		c = codes.ResourceExhausted
	case errs.KindShutdown:
		c = codes.Unavailable
	case errs.KindVenueTimeout:
		c = codes.DeadlineExceeded
	case errs.KindVenueRejected:
		c = codes.Aborted
	default:
		c = codes.Internal
	}
	return status.Error(c, err.Error())
}

// LoggingInterceptor logs every unary call at debug and failures at warn.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
		}
		if err != nil {
			log.Warn("grpc call failed", append(fields, zap.Error(err))...)
		} else {
			log.Debug("grpc call", fields...)
		}
		return resp, err
	}
}
