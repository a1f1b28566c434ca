// Package service contains the device registry and the sync coordinator.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
	"github.com/AlAfiz/starked-education/internal/repository"
)

// DeviceRegistry tracks device identity and liveness hints.
type DeviceRegistry interface {
	// RegisterDevice upserts the device as online and fires the online hook.
	RegisterDevice(ctx context.Context, in model.RegisterDevice) (model.Device, error)
	// UnregisterDevice marks the device offline. Unknown devices are ignored.
	UnregisterDevice(ctx context.Context, deviceID string) error
	// Heartbeat refreshes last-seen time only. Unknown devices are ignored.
	Heartbeat(ctx context.Context, deviceID string) error
	// ListDevices returns the user's devices, most recently seen first.
	ListDevices(ctx context.Context, userID string) ([]model.Device, error)
	// GetDevice returns one device or errs.ErrNotFound.
	GetDevice(ctx context.Context, deviceID string) (*model.Device, error)
	// SetStatus changes the status hint of a device.
	SetStatus(ctx context.Context, deviceID string, st model.DeviceStatus) error
	// TransitionStatus changes the status only while it equals from and
	// reports whether it did.
	TransitionStatus(ctx context.Context, deviceID string, from, to model.DeviceStatus) (bool, error)
	// MarkSynced records an accepted sync from the device.
	MarkSynced(ctx context.Context, deviceID string) error
}

// OnlineHook is called after a device registration succeeds.
type OnlineHook func(d model.Device)

type DeviceRegistryImpl struct {
	repo repository.DeviceRepository
	log  *zap.Logger
	now  func() time.Time

	hmu      sync.RWMutex
	onOnline OnlineHook
}

// NewDeviceRegistry constructs a registry over repo.
func NewDeviceRegistry(repo repository.DeviceRepository, log *zap.Logger) *DeviceRegistryImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeviceRegistryImpl{repo: repo, log: log, now: time.Now}
}

// SetOnlineHook installs the callback fired by RegisterDevice.
func (r *DeviceRegistryImpl) SetOnlineHook(h OnlineHook) {
	r.hmu.Lock()
	r.onOnline = h
	r.hmu.Unlock()
}

// RegisterDevice validates input and upserts the device with status online.
// Returns errs.ErrDeviceOwnership when the device belongs to another user.
func (r *DeviceRegistryImpl) RegisterDevice(ctx context.Context, in model.RegisterDevice) (model.Device, error) {
	if in.DeviceID == "" {
		return model.Device{}, fmt.Errorf("%w: empty deviceID", errs.ErrValidation)
	}
	if in.UserID == "" {
		return model.Device{}, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	now := r.now().UTC()
	d, err := r.repo.Upsert(ctx, model.Device{
		ID:          in.DeviceID,
		UserID:      in.UserID,
		DisplayName: in.Name,
		Kind:        in.Kind,
		UserAgent:   in.UserAgent,
		Status:      model.DeviceOnline,
		LastSeenAt:  now,
		CreatedAt:   now,
	})
	if err != nil {
		return model.Device{}, err
	}
	r.log.Info("device online",
		zap.String("device_id", d.ID),
		zap.String("user_id", d.UserID),
		zap.String("kind", d.Kind))

	r.hmu.RLock()
	hook := r.onOnline
	r.hmu.RUnlock()
	if hook != nil {
		hook(d)
	}
	return d, nil
}

// UnregisterDevice sets status offline.
func (r *DeviceRegistryImpl) UnregisterDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty deviceID", errs.ErrValidation)
	}
	err := r.repo.SetStatus(ctx, deviceID, model.DeviceOffline, r.now().UTC())
	if errors.Is(err, errs.ErrNotFound) {
		r.log.Debug("unregister of unknown device", zap.String("device_id", deviceID))
		return nil
	}
	return err
}

// Heartbeat refreshes last-seen time.
func (r *DeviceRegistryImpl) Heartbeat(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty deviceID", errs.ErrValidation)
	}
	err := r.repo.Touch(ctx, deviceID, r.now().UTC())
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	return err
}

// ListDevices returns all devices of userID.
func (r *DeviceRegistryImpl) ListDevices(ctx context.Context, userID string) ([]model.Device, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	return r.repo.ListByUser(ctx, userID)
}

// GetDevice fetches a single device.
func (r *DeviceRegistryImpl) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty deviceID", errs.ErrValidation)
	}
	return r.repo.Get(ctx, deviceID)
}

func validStatus(st model.DeviceStatus) error {
	switch st {
	case model.DeviceOnline, model.DeviceOffline, model.DeviceSyncing, model.DeviceError:
		return nil
	}
	return fmt.Errorf("%w: unknown device status %q", errs.ErrValidation, st)
}

// SetStatus changes the status hint and refreshes last-seen time.
func (r *DeviceRegistryImpl) SetStatus(ctx context.Context, deviceID string, st model.DeviceStatus) error {
	if err := validStatus(st); err != nil {
		return err
	}
	return r.repo.SetStatus(ctx, deviceID, st, r.now().UTC())
}

// TransitionStatus is SetStatus guarded by the current status.
func (r *DeviceRegistryImpl) TransitionStatus(ctx context.Context, deviceID string, from, to model.DeviceStatus) (bool, error) {
	if err := validStatus(from); err != nil {
		return false, err
	}
	if err := validStatus(to); err != nil {
		return false, err
	}
	return r.repo.SetStatusIf(ctx, deviceID, from, to, r.now().UTC())
}

// MarkSynced sets last-sync time.
func (r *DeviceRegistryImpl) MarkSynced(ctx context.Context, deviceID string) error {
	return r.repo.MarkSynced(ctx, deviceID, r.now().UTC())
}
