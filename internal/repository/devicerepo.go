// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/AlAfiz/starked-education/internal/model"
)

// DeviceRepository persists device registry records keyed by device ID.
type DeviceRepository interface {
	// Upsert creates the device or refreshes its metadata, status and last-seen time.
	// Empty metadata fields keep their stored values. Returns errs.ErrDeviceOwnership
	// if the device is already registered to another user.
	Upsert(ctx context.Context, d model.Device) (model.Device, error)
	// Get loads a device by ID.
	Get(ctx context.Context, id string) (*model.Device, error)
	// ListByUser returns the user's devices, most recently seen first.
	ListByUser(ctx context.Context, userID string) ([]model.Device, error)
	// Touch sets last-seen time only.
	Touch(ctx context.Context, id string, at time.Time) error
	// SetStatus sets status and last-seen time.
	SetStatus(ctx context.Context, id string, st model.DeviceStatus, at time.Time) error
	// SetStatusIf moves the device from one status to another. It reports
	// false when the device is missing or no longer in from.
	SetStatusIf(ctx context.Context, id string, from, to model.DeviceStatus, at time.Time) (bool, error)
	// MarkSynced sets last-sync and last-seen time.
	MarkSynced(ctx context.Context, id string, at time.Time) error
}
