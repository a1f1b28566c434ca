// Package grpcserver exposes the sync coordination API over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AlAfiz/starked-education/internal/auth"
	"github.com/AlAfiz/starked-education/internal/convert"
	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
	"github.com/AlAfiz/starked-education/internal/service"
)

// Subscriber hands out per-user event channels.
type Subscriber interface {
	Subscribe(userID string, buffer int) (<-chan model.SyncEvent, func())
}

// Server wires services into gRPC handlers.
type Server struct {
	devices service.DeviceRegistry
	sync    service.SyncCoordinator
	events  Subscriber
	signKey []byte
	log     *zap.Logger
	admins  map[string]struct{}
}

var _ SyncServiceServer = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithAdmins names the users allowed to run queue-wide operations.
func WithAdmins(userIDs ...string) Option {
	return func(s *Server) {
		for _, id := range userIDs {
			if id = strings.TrimSpace(id); id != "" {
				s.admins[id] = struct{}{}
			}
		}
	}
}

// New constructs a gRPC server with injected services. events may be nil,
// in which case Subscribe is unavailable.
func New(devices service.DeviceRegistry, sync service.SyncCoordinator, events Subscriber, signKey []byte, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{devices: devices, sync: sync, events: events, signKey: signKey, log: log, admins: map[string]struct{}{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) isAdmin(userID string) bool {
	_, ok := s.admins[userID]
	return ok
}

// adminFromCtx authenticates the caller and requires an admin.
func (s *Server) adminFromCtx(ctx context.Context, method string) (string, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "no auth")
	}
	if !s.isAdmin(userID) {
		s.log.Warn("admin operation denied", zap.String("method", method), zap.String("user_id", userID))
		return "", status.Error(codes.PermissionDenied, "admin only")
	}
	return userID, nil
}

// toStatus maps service errors onto gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, errs.ErrDeviceOwnership):
		return status.Error(codes.PermissionDenied, "device belongs to another user")
	case errors.Is(err, errs.ErrDrainInProgress):
		return status.Error(codes.Aborted, "drain in progress")
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.Aborted, "version conflict, retry")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, op+": canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op+": deadline exceeded")
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

func encoded(s *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return s, nil
}

// deviceOf loads a device and checks that userID owns it. A device of
// another user is reported as not found.
func (s *Server) deviceOf(ctx context.Context, userID, deviceID string) (*model.Device, error) {
	d, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, errs.ErrNotFound
	}
	return d, nil
}

// checkWriter rejects writes through a device registered to someone else.
// Unregistered devices may write; the registry learns about them on register.
func (s *Server) checkWriter(ctx context.Context, userID, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	d, err := s.devices.GetDevice(ctx, deviceID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if d.UserID != userID {
		return errs.ErrDeviceOwnership
	}
	return nil
}

func deviceIDArg(req *structpb.Struct) string {
	if v, ok := req.GetFields()["deviceId"]; ok {
		return v.GetStringValue()
	}
	return ""
}

// --- Devices ---

// RegisterDevice upserts the caller's device and marks it online.
func (s *Server) RegisterDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	d, err := s.devices.RegisterDevice(ctx, convert.FromProtoRegisterDevice(req, userID))
	if err != nil {
		return nil, toStatus("register device", err)
	}
	return encoded(convert.ToProtoDevice(d))
}

// UnregisterDevice marks a device offline. Unknown devices are a no-op.
func (s *Server) UnregisterDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	id := deviceIDArg(req)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "empty deviceId")
	}
	if _, err := s.deviceOf(ctx, userID, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return convert.Empty(), nil
		}
		return nil, toStatus("unregister device", err)
	}
	if err := s.devices.UnregisterDevice(ctx, id); err != nil {
		return nil, toStatus("unregister device", err)
	}
	return convert.Empty(), nil
}

// Heartbeat refreshes a device's last-seen time.
func (s *Server) Heartbeat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	id := deviceIDArg(req)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "empty deviceId")
	}
	if _, err := s.deviceOf(ctx, userID, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return convert.Empty(), nil
		}
		return nil, toStatus("heartbeat", err)
	}
	if err := s.devices.Heartbeat(ctx, id); err != nil {
		return nil, toStatus("heartbeat", err)
	}
	return convert.Empty(), nil
}

// ListDevices returns the caller's devices.
func (s *Server) ListDevices(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	ds, err := s.devices.ListDevices(ctx, userID)
	if err != nil {
		return nil, toStatus("list devices", err)
	}
	return encoded(convert.ToProtoDevices(ds))
}

// GetDevice returns one of the caller's devices.
func (s *Server) GetDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	id := deviceIDArg(req)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "empty deviceId")
	}
	d, err := s.deviceOf(ctx, userID, id)
	if err != nil {
		return nil, toStatus("get device", err)
	}
	return encoded(convert.ToProtoDevice(*d))
}

// --- Sync ---

// SyncEntity submits one entity write.
func (s *Server) SyncEntity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	in, strategy, err := convert.FromProtoSyncInput(req, userID)
	if err != nil {
		return nil, toStatus("sync entity", err)
	}
	if err := s.checkWriter(ctx, userID, in.DeviceID); err != nil {
		return nil, toStatus("sync entity", err)
	}
	res, err := s.sync.SyncEntity(ctx, in, strategy)
	if err != nil {
		return nil, toStatus("sync entity", err)
	}
	return encoded(convert.ToProtoSyncResult(res))
}

// GetSyncStatus lists the caller's entity states.
func (s *Server) GetSyncStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	f := convert.FromProtoStatusFilter(req)
	sts, err := s.sync.GetSyncStatus(ctx, userID, f.EntityType, f.EntityID)
	if err != nil {
		return nil, toStatus("get sync status", err)
	}
	return encoded(convert.ToProtoSyncStatuses(sts))
}

// GetConflictHistory returns recent conflicts of one of the caller's entities.
func (s *Server) GetConflictHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	f := convert.FromProtoStatusFilter(req)
	if f.EntityType == "" || f.EntityID == "" {
		return nil, status.Error(codes.InvalidArgument, "entityType and entityId are required")
	}
	return encoded(convert.ToProtoConflictRecords(s.sync.ConflictHistory(userID, f.EntityType, f.EntityID)))
}

// --- Queue ---

// Enqueue stores an offline operation for later processing.
func (s *Server) Enqueue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	op, err := convert.FromProtoQueuedOperation(req, userID)
	if err != nil {
		return nil, toStatus("enqueue", err)
	}
	if err := s.checkWriter(ctx, userID, op.DeviceID); err != nil {
		return nil, toStatus("enqueue", err)
	}
	out, err := s.sync.Enqueue(ctx, op)
	if err != nil {
		return nil, toStatus("enqueue", err)
	}
	return encoded(convert.ToProtoQueuedOperation(out))
}

// ProcessQueue drains the whole queue. Admin only.
func (s *Server) ProcessQueue(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.adminFromCtx(ctx, MethodProcessQueue); err != nil {
		return nil, err
	}
	res, err := s.sync.ProcessQueue(ctx)
	if err != nil {
		return nil, toStatus("process queue", err)
	}
	return encoded(convert.ToProtoDrainResult(res))
}

// ProcessQueueForUser drains the caller's items.
func (s *Server) ProcessQueueForUser(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	res, err := s.sync.ProcessQueueForUser(ctx, userID)
	if err != nil {
		return nil, toStatus("process queue", err)
	}
	return encoded(convert.ToProtoDrainResult(res))
}

// GetQueueStatus returns the pending count and drain state. Admins see the
// whole queue, other callers only their own items.
func (s *Server) GetQueueStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	st, err := s.sync.QueueStatus(ctx)
	if err != nil {
		return nil, toStatus("queue status", err)
	}
	if !s.isAdmin(userID) {
		ops, err := s.sync.PendingItems(ctx, userID)
		if err != nil {
			return nil, toStatus("queue status", err)
		}
		st.PendingCount = len(ops)
	}
	return encoded(convert.ToProtoQueueStatus(st))
}

// GetPendingItems lists the caller's queued operations.
func (s *Server) GetPendingItems(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	ops, err := s.sync.PendingItems(ctx, userID)
	if err != nil {
		return nil, toStatus("pending items", err)
	}
	return encoded(convert.ToProtoQueuedOperations(ops))
}

// ClearQueue empties the queue. Admin only.
func (s *Server) ClearQueue(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.adminFromCtx(ctx, MethodClearQueue)
	if err != nil {
		return nil, err
	}
	if err := s.sync.ClearQueue(ctx); err != nil {
		return nil, toStatus("clear queue", err)
	}
	s.log.Warn("offline queue cleared", zap.String("by_user", userID))
	return convert.Empty(), nil
}

// --- Events ---

const subscribeBuffer = 32

// Subscribe streams sync-complete events of the caller until the client
// goes away or the server stops.
func (s *Server) Subscribe(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return status.Error(codes.Unauthenticated, "no auth")
	}
	if s.events == nil {
		return status.Error(codes.Unimplemented, "event push disabled")
	}
	ch, cancel := s.events.Subscribe(userID, subscribeBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := convert.ToProtoEvent(ev)
			if err != nil {
				return status.Errorf(codes.Internal, "encode: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// --- auth ---

// userIDFromCtx returns the user set by WithUserID or the subject of the
// "authorization: Bearer <JWT>" metadata.
func (s *Server) userIDFromCtx(ctx context.Context) (string, error) {
	if id, ok := UserIDFromCtx(ctx); ok {
		return id, nil
	}
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return "", err
	}
	return auth.Verify(s.signKey, tok)
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
