package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"arenaclash/server/internal/arena"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/state"
)

const (
	serviceName   = "arena.v1.ArenaService"
	joinMethod    = "/" + serviceName + "/Join"
	submitMethod  = "/" + serviceName + "/Submit"
	observeMethod = "/" + serviceName + "/Observe"

	// PlayerMetadataKey names the player a Submit call speaks for.
	PlayerMetadataKey = "x-arena-player"
)

// Arena is the slice of the authoritative world the service drives.
type Arena interface {
	Join(player match.Player) (state.Handle, error)
	PlayerHandle(playerID string) (state.Handle, bool)
	Submit(from state.Handle, msg arena.Message) error
	Subscribe(observer func(arena.Message)) (unsubscribe func())
}

var _ Arena = (*arena.World)(nil)

// arenaServer is the handler type behind the hand written service descriptor. Every message
// is a structpb.Struct so the service needs no generated code.
type arenaServer interface {
	Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Observe(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*arenaServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: unaryHandler(joinMethod, arenaServer.Join)},
		{MethodName: "Submit", Handler: unaryHandler(submitMethod, arenaServer.Submit)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Observe", Handler: observeHandler, ServerStreams: true},
	},
	Metadata: "arena/v1/arena.proto",
}

type unaryCall func(arenaServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(arenaServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(arenaServer), ctx, req.(*structpb.Struct))
		})
	}
}

func observeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(arenaServer).Observe(in, stream)
}

// Register attaches the service to a gRPC server.
func Register(server *grpc.Server, service *Service) {
	server.RegisterService(&serviceDesc, service)
}
