package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

type unaryMethod func(ExecutorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ExecutorServer)
			if ic == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func streamBook(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Server).StreamBook(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ExecuteOrder", ExecutorServer.ExecuteOrder),
		unary("CancelOrder", ExecutorServer.CancelOrder),
		unary("GetOrder", ExecutorServer.GetOrder),
		unary("GetBook", ExecutorServer.GetBook),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "StreamBook",
		Handler:       streamBook,
		ServerStreams: true,
	}},
	Metadata: "fxh/v1/executor",
}

// Client calls the service over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ExecuteOrder(ctx context.Context, in map[string]any) (*structpb.Struct, error) {
	return c.call(ctx, "ExecuteOrder", in)
}

func (c *Client) CancelOrder(ctx context.Context, in map[string]any) (*structpb.Struct, error) {
	return c.call(ctx, "CancelOrder", in)
}

func (c *Client) GetOrder(ctx context.Context, in map[string]any) (*structpb.Struct, error) {
	return c.call(ctx, "GetOrder", in)
}

func (c *Client) GetBook(ctx context.Context, in map[string]any) (*structpb.Struct, error) {
	return c.call(ctx, "GetBook", in)
}

// StreamBook opens the book stream for symbol.
func (c *Client) StreamBook(ctx context.Context, symbol string) (grpc.ServerStreamingClient[structpb.Struct], error) {
	desc := &serviceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, "/"+serviceName+"/StreamBook")
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
