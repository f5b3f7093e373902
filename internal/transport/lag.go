package transport

import (
	"context"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	LagServiceName          = "spout.v1.Lag"
	lagPendingFullMethod    = "/spout.v1.Lag/Pending"
	lagPartitionsFullMethod = "/spout.v1.Lag/Partitions"
)

// Lag is what the service exposes from a source.
type Lag interface {
	Pending(ctx context.Context) (*int64, error)
	Partitions() []int32
}

// LagServer is the server API for the spout.v1.Lag service.
type LagServer interface {
	// Pending reports the backlog; a null value means unknown.
	Pending(context.Context, *emptypb.Empty) (*structpb.Value, error)
	Partitions(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

type lagService struct{ lag Lag }

func NewLagServer(l Lag) LagServer { return &lagService{lag: l} }

func (s *lagService) Pending(ctx context.Context, _ *emptypb.Empty) (*structpb.Value, error) {
	n, err := s.lag.Pending(ctx)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	if n == nil {
		return structpb.NewNullValue(), nil
	}
	return structpb.NewNumberValue(float64(*n)), nil
}

func (s *lagService) Partitions(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	parts := s.lag.Partitions()
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(parts))}
	for _, p := range parts {
		out.Values = append(out.Values, structpb.NewNumberValue(float64(p)))
	}
	return out, nil
}

func RegisterLagServer(s grpc.ServiceRegistrar, srv LagServer) {
	s.RegisterService(&LagServiceDesc, srv)
}

func lagPendingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LagServer).Pending(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lagPendingFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LagServer).Pending(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func lagPartitionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LagServer).Partitions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lagPartitionsFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LagServer).Partitions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// LagServiceDesc is the grpc.ServiceDesc for spout.v1.Lag. Messages are
// protobuf well-known types, so there is no generated code.
var LagServiceDesc = grpc.ServiceDesc{
	ServiceName: LagServiceName,
	HandlerType: (*LagServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Pending", Handler: lagPendingHandler},
		{MethodName: "Partitions", Handler: lagPartitionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spout/v1/lag.proto",
}

// LagClient is the client side of spout.v1.Lag.
type LagClient struct {
	cc grpc.ClientConnInterface
}

func NewLagClient(cc grpc.ClientConnInterface) *LagClient { return &LagClient{cc: cc} }

// Pending returns nil when the source cannot tell its backlog.
func (c *LagClient) Pending(ctx context.Context, opts ...grpc.CallOption) (*int64, error) {
	out := new(structpb.Value)
	if err := c.cc.Invoke(ctx, lagPendingFullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	switch k := out.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_NumberValue:
		n := int64(math.Round(k.NumberValue))
		return &n, nil
	default:
		return nil, status.Errorf(codes.Internal, "lag: unexpected pending value %T", k)
	}
}

func (c *LagClient) Partitions(ctx context.Context, opts ...grpc.CallOption) ([]int32, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, lagPartitionsFullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	parts := make([]int32, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		parts = append(parts, int32(v.GetNumberValue()))
	}
	return parts, nil
}
