package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "starked.sync.v1.SyncService"

// Method names of the sync service.
const (
	MethodRegisterDevice      = "RegisterDevice"
	MethodUnregisterDevice    = "UnregisterDevice"
	MethodHeartbeat           = "Heartbeat"
	MethodListDevices         = "ListDevices"
	MethodGetDevice           = "GetDevice"
	MethodSyncEntity          = "SyncEntity"
	MethodGetSyncStatus       = "GetSyncStatus"
	MethodEnqueue             = "Enqueue"
	MethodProcessQueue        = "ProcessQueue"
	MethodProcessQueueForUser = "ProcessQueueForUser"
	MethodGetQueueStatus      = "GetQueueStatus"
	MethodGetPendingItems     = "GetPendingItems"
	MethodClearQueue          = "ClearQueue"
	MethodGetConflictHistory  = "GetConflictHistory"
	MethodSubscribe           = "Subscribe"
)

// FullMethod returns "/<service>/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// SyncServiceServer is the server API of the sync service. Messages are
// JSON objects carried as structpb.Struct.
type SyncServiceServer interface {
	RegisterDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnregisterDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Heartbeat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDevices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncEntity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSyncStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Enqueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessQueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessQueueForUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetQueueStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPendingItems(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearQueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConflictHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

type unaryFunc func(SyncServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(SyncServiceServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SyncServiceServer).Subscribe(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes the sync service for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRegisterDevice, SyncServiceServer.RegisterDevice),
		unary(MethodUnregisterDevice, SyncServiceServer.UnregisterDevice),
		unary(MethodHeartbeat, SyncServiceServer.Heartbeat),
		unary(MethodListDevices, SyncServiceServer.ListDevices),
		unary(MethodGetDevice, SyncServiceServer.GetDevice),
		unary(MethodSyncEntity, SyncServiceServer.SyncEntity),
		unary(MethodGetSyncStatus, SyncServiceServer.GetSyncStatus),
		unary(MethodEnqueue, SyncServiceServer.Enqueue),
		unary(MethodProcessQueue, SyncServiceServer.ProcessQueue),
		unary(MethodProcessQueueForUser, SyncServiceServer.ProcessQueueForUser),
		unary(MethodGetQueueStatus, SyncServiceServer.GetQueueStatus),
		unary(MethodGetPendingItems, SyncServiceServer.GetPendingItems),
		unary(MethodClearQueue, SyncServiceServer.ClearQueue),
		unary(MethodGetConflictHistory, SyncServiceServer.GetConflictHistory),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    MethodSubscribe,
		Handler:       subscribeHandler,
		ServerStreams: true,
	}},
}

// RegisterSyncServiceServer registers srv with s.
func RegisterSyncServiceServer(s grpc.ServiceRegistrar, srv SyncServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
