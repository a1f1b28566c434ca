package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AlAfiz/starked-education/internal/convert"
	"github.com/AlAfiz/starked-education/internal/model"
)

// Client is a typed client of the sync service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = convert.Empty()
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func deviceRef(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"deviceId": structpb.NewStringValue(id)}}
}

// RegisterDevice registers or refreshes a device of the caller.
func (c *Client) RegisterDevice(ctx context.Context, in model.RegisterDevice, opts ...grpc.CallOption) (model.Device, error) {
	req, err := convert.ToProtoRegisterDevice(in)
	if err != nil {
		return model.Device{}, err
	}
	out, err := c.call(ctx, MethodRegisterDevice, req, opts...)
	if err != nil {
		return model.Device{}, err
	}
	return convert.FromProtoDevice(out)
}

// UnregisterDevice marks a device offline.
func (c *Client) UnregisterDevice(ctx context.Context, deviceID string, opts ...grpc.CallOption) error {
	_, err := c.call(ctx, MethodUnregisterDevice, deviceRef(deviceID), opts...)
	return err
}

// Heartbeat refreshes a device's last-seen time.
func (c *Client) Heartbeat(ctx context.Context, deviceID string, opts ...grpc.CallOption) error {
	_, err := c.call(ctx, MethodHeartbeat, deviceRef(deviceID), opts...)
	return err
}

// ListDevices lists the caller's devices.
func (c *Client) ListDevices(ctx context.Context, opts ...grpc.CallOption) ([]model.Device, error) {
	out, err := c.call(ctx, MethodListDevices, nil, opts...)
	if err != nil {
		return nil, err
	}
	return convert.FromProtoDevices(out)
}

// GetDevice fetches one device.
func (c *Client) GetDevice(ctx context.Context, deviceID string, opts ...grpc.CallOption) (model.Device, error) {
	out, err := c.call(ctx, MethodGetDevice, deviceRef(deviceID), opts...)
	if err != nil {
		return model.Device{}, err
	}
	return convert.FromProtoDevice(out)
}

// SyncEntity submits a write. Empty strategy means server default.
func (c *Client) SyncEntity(ctx context.Context, in model.SyncInput, strategy string, opts ...grpc.CallOption) (model.SyncResult, error) {
	req, err := convert.ToProtoSyncInput(in, strategy)
	if err != nil {
		return model.SyncResult{}, err
	}
	out, err := c.call(ctx, MethodSyncEntity, req, opts...)
	if err != nil {
		return model.SyncResult{}, err
	}
	return convert.FromProtoSyncResult(out)
}

// GetSyncStatus lists entity states, optionally filtered.
func (c *Client) GetSyncStatus(ctx context.Context, f convert.StatusFilter, opts ...grpc.CallOption) ([]model.SyncStatus, error) {
	req, err := convert.ToProtoStatusFilter(f)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, MethodGetSyncStatus, req, opts...)
	if err != nil {
		return nil, err
	}
	return convert.FromProtoSyncStatuses(out)
}

// GetConflictHistory returns recent conflicts of one entity.
func (c *Client) GetConflictHistory(ctx context.Context, entityType model.EntityType, entityID string, opts ...grpc.CallOption) ([]model.ConflictRecord, error) {
	req, err := convert.ToProtoStatusFilter(convert.StatusFilter{EntityType: entityType, EntityID: entityID})
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, MethodGetConflictHistory, req, opts...)
	if err != nil {
		return nil, err
	}
	return convert.FromProtoConflictRecords(out)
}

// Enqueue stores an offline operation.
func (c *Client) Enqueue(ctx context.Context, op model.QueuedOperation, opts ...grpc.CallOption) (model.QueuedOperation, error) {
	req, err := convert.ToProtoQueuedOperation(op)
	if err != nil {
		return model.QueuedOperation{}, err
	}
	out, err := c.call(ctx, MethodEnqueue, req, opts...)
	if err != nil {
		return model.QueuedOperation{}, err
	}
	return convert.FromProtoQueuedResult(out)
}

// ProcessQueue drains everything.
func (c *Client) ProcessQueue(ctx context.Context, opts ...grpc.CallOption) (model.DrainResult, error) {
	out, err := c.call(ctx, MethodProcessQueue, nil, opts...)
	if err != nil {
		return model.DrainResult{}, err
	}
	return convert.FromProtoDrainResult(out), nil
}

// ProcessQueueForUser drains the caller's items.
func (c *Client) ProcessQueueForUser(ctx context.Context, opts ...grpc.CallOption) (model.DrainResult, error) {
	out, err := c.call(ctx, MethodProcessQueueForUser, nil, opts...)
	if err != nil {
		return model.DrainResult{}, err
	}
	return convert.FromProtoDrainResult(out), nil
}

// GetQueueStatus returns the pending count and drain flag.
func (c *Client) GetQueueStatus(ctx context.Context, opts ...grpc.CallOption) (model.QueueStatus, error) {
	out, err := c.call(ctx, MethodGetQueueStatus, nil, opts...)
	if err != nil {
		return model.QueueStatus{}, err
	}
	return convert.FromProtoQueueStatus(out), nil
}

// GetPendingItems lists the caller's queued operations.
func (c *Client) GetPendingItems(ctx context.Context, opts ...grpc.CallOption) ([]model.QueuedOperation, error) {
	out, err := c.call(ctx, MethodGetPendingItems, nil, opts...)
	if err != nil {
		return nil, err
	}
	return convert.FromProtoQueuedOperations(out)
}

// ClearQueue drops every queued operation.
func (c *Client) ClearQueue(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := c.call(ctx, MethodClearQueue, nil, opts...)
	return err
}

// Subscribe opens the event stream of the caller.
func (c *Client) Subscribe(ctx context.Context, opts ...grpc.CallOption) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodSubscribe), opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.SendMsg(convert.Empty()); err != nil {
		return nil, err
	}
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{s: x}, nil
}

// EventStream yields decoded sync events.
type EventStream struct {
	s grpc.ServerStreamingClient[structpb.Struct]
}

// Recv blocks for the next event. io.EOF marks a clean end.
func (e *EventStream) Recv() (model.SyncEvent, error) {
	msg, err := e.s.Recv()
	if err != nil {
		return model.SyncEvent{}, err
	}
	return convert.FromProtoEvent(msg)
}
