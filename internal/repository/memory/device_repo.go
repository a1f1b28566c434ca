// Package memory contains process-local implementations of repository interfaces.
// State is lost on restart; they back tests and single-instance dev runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

// DeviceRepo implements DeviceRepository over a map.
type DeviceRepo struct {
	mu      sync.RWMutex
	devices map[string]model.Device
}

// NewDeviceRepo constructs an empty device repository.
func NewDeviceRepo() *DeviceRepo {
	return &DeviceRepo{devices: make(map[string]model.Device)}
}

// Upsert creates or refreshes a device.
func (r *DeviceRepo) Upsert(_ context.Context, d model.Device) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.devices[d.ID]
	if !ok {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = d.LastSeenAt
		}
		r.devices[d.ID] = copyDevice(d)
		return copyDevice(d), nil
	}
	if cur.UserID != d.UserID {
		return model.Device{}, errs.ErrDeviceOwnership
	}
	if d.DisplayName != "" {
		cur.DisplayName = d.DisplayName
	}
	if d.Kind != "" {
		cur.Kind = d.Kind
	}
	if d.UserAgent != "" {
		cur.UserAgent = d.UserAgent
	}
	cur.Status = d.Status
	cur.LastSeenAt = d.LastSeenAt
	r.devices[d.ID] = cur
	return copyDevice(cur), nil
}

// Get loads a device by ID.
func (r *DeviceRepo) Get(_ context.Context, id string) (*model.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	d = copyDevice(d)
	return &d, nil
}

// ListByUser returns devices of a user ordered by last-seen time, newest first.
func (r *DeviceRepo) ListByUser(_ context.Context, userID string) ([]model.Device, error) {
	r.mu.RLock()
	out := make([]model.Device, 0)
	for _, d := range r.devices {
		if d.UserID == userID {
			out = append(out, copyDevice(d))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out, nil
}

// Touch refreshes last-seen time.
func (r *DeviceRepo) Touch(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(d *model.Device) { d.LastSeenAt = at })
}

// SetStatus changes status and last-seen time.
func (r *DeviceRepo) SetStatus(_ context.Context, id string, st model.DeviceStatus, at time.Time) error {
	return r.update(id, func(d *model.Device) {
		d.Status = st
		d.LastSeenAt = at
	})
}

// SetStatusIf changes status only while it equals from.
func (r *DeviceRepo) SetStatusIf(_ context.Context, id string, from, to model.DeviceStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	d.LastSeenAt = at
	r.devices[id] = d
	return true, nil
}

// MarkSynced records a successful sync.
func (r *DeviceRepo) MarkSynced(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(d *model.Device) {
		d.LastSyncAt = &at
		d.LastSeenAt = at
	})
}

func (r *DeviceRepo) update(id string, fn func(*model.Device)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return errs.ErrNotFound
	}
	fn(&d)
	r.devices[id] = d
	return nil
}

func copyDevice(d model.Device) model.Device {
	if d.LastSyncAt != nil {
		t := *d.LastSyncAt
		d.LastSyncAt = &t
	}
	return d
}
