// Package api exposes the bridge core over gRPC. Messages are protobuf
// well-known types, so the service is described by hand instead of being
// generated from a .proto file.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "imcore.v1.Bridge"

const (
	Bridge_Ingest_FullMethodName             = "/imcore.v1.Bridge/Ingest"
	Bridge_WatchEvents_FullMethodName        = "/imcore.v1.Bridge/WatchEvents"
	Bridge_ListChats_FullMethodName          = "/imcore.v1.Bridge/ListChats"
	Bridge_GetChat_FullMethodName            = "/imcore.v1.Bridge/GetChat"
	Bridge_ChatsForHandle_FullMethodName     = "/imcore.v1.Bridge/ChatsForHandle"
	Bridge_SortedParticipants_FullMethodName = "/imcore.v1.Bridge/SortedParticipants"
	Bridge_GetStatus_FullMethodName          = "/imcore.v1.Bridge/GetStatus"
)

// BridgeServer is the server API for the Bridge service.
type BridgeServer interface {
	// Ingest delivers one host callback: {kind, payload}.
	Ingest(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// WatchEvents streams bus events whose kind starts with one of {kinds}.
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	ListChats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChatsForHandle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SortedParticipants(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedBridgeServer can be embedded to get forward-compatible
// implementations.
type UnimplementedBridgeServer struct{}

func (UnimplementedBridgeServer) Ingest(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, grpcstatus.Error(codes.Unimplemented, "method Ingest not implemented")
}
func (UnimplementedBridgeServer) WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error {
	return grpcstatus.Error(codes.Unimplemented, "method WatchEvents not implemented")
}
func (UnimplementedBridgeServer) ListChats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, grpcstatus.Error(codes.Unimplemented, "method ListChats not implemented")
}
func (UnimplementedBridgeServer) GetChat(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, grpcstatus.Error(codes.Unimplemented, "method GetChat not implemented")
}
func (UnimplementedBridgeServer) ChatsForHandle(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, grpcstatus.Error(codes.Unimplemented, "method ChatsForHandle not implemented")
}
func (UnimplementedBridgeServer) SortedParticipants(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, grpcstatus.Error(codes.Unimplemented, "method SortedParticipants not implemented")
}
func (UnimplementedBridgeServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, grpcstatus.Error(codes.Unimplemented, "method GetStatus not implemented")
}

// RegisterBridgeServer registers srv on s.
func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&Bridge_ServiceDesc, srv)
}

func unary[R proto.Message](method string, newReq func() R, call func(BridgeServer, context.Context, R) (proto.Message, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BridgeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BridgeServer), ctx, req.(R))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func newStruct() *structpb.Struct { return new(structpb.Struct) }
func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BridgeServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Bridge_ServiceDesc is the grpc.ServiceDesc for the Bridge service.
var Bridge_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ingest",
			Handler: unary(Bridge_Ingest_FullMethodName, newStruct, func(s BridgeServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
				return s.Ingest(ctx, in)
			}),
		},
		{
			MethodName: "ListChats",
			Handler: unary(Bridge_ListChats_FullMethodName, newEmpty, func(s BridgeServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
				return s.ListChats(ctx, in)
			}),
		},
		{
			MethodName: "GetChat",
			Handler: unary(Bridge_GetChat_FullMethodName, newStruct, func(s BridgeServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
				return s.GetChat(ctx, in)
			}),
		},
		{
			MethodName: "ChatsForHandle",
			Handler: unary(Bridge_ChatsForHandle_FullMethodName, newStruct, func(s BridgeServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
				return s.ChatsForHandle(ctx, in)
			}),
		},
		{
			MethodName: "SortedParticipants",
			Handler: unary(Bridge_SortedParticipants_FullMethodName, newStruct, func(s BridgeServer, ctx context.Context, in *structpb.Struct) (proto.Message, error) {
				return s.SortedParticipants(ctx, in)
			}),
		},
		{
			MethodName: "GetStatus",
			Handler: unary(Bridge_GetStatus_FullMethodName, newEmpty, func(s BridgeServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
				return s.GetStatus(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// BridgeClient is the client API for the Bridge service.
type BridgeClient interface {
	Ingest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	WatchEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
	ListChats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetChat(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ChatsForHandle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SortedParticipants(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type bridgeClient struct {
	cc grpc.ClientConnInterface
}

func NewBridgeClient(cc grpc.ClientConnInterface) BridgeClient {
	return &bridgeClient{cc}
}

func (c *bridgeClient) Ingest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, Bridge_Ingest_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bridgeClient) WatchEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &Bridge_ServiceDesc.Streams[0], Bridge_WatchEvents_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *bridgeClient) ListChats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, Bridge_ListChats_FullMethodName, in, opts)
}

func (c *bridgeClient) GetChat(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, Bridge_GetChat_FullMethodName, in, opts)
}

func (c *bridgeClient) ChatsForHandle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, Bridge_ChatsForHandle_FullMethodName, in, opts)
}

func (c *bridgeClient) SortedParticipants(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, Bridge_SortedParticipants_FullMethodName, in, opts)
}

func (c *bridgeClient) GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, Bridge_GetStatus_FullMethodName, in, opts)
}

func (c *bridgeClient) invokeStruct(ctx context.Context, method string, in proto.Message, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
