package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

// DeviceRepo implements DeviceRepository using PostgreSQL.
type DeviceRepo struct{ db *DB }

// NewDeviceRepo constructs a device repository.
func NewDeviceRepo(db *DB) *DeviceRepo { return &DeviceRepo{db: db} }

const deviceCols = `device_id, user_id, display_name, kind, user_agent, status, last_seen_at, last_sync_at, created_at`

// Upsert inserts or refreshes a device row. The WHERE clause on the conflict
// branch keeps user_id immutable: a foreign owner yields no row.
func (r *DeviceRepo) Upsert(ctx context.Context, d model.Device) (model.Device, error) {
	const q = `
INSERT INTO devices (device_id, user_id, display_name, kind, user_agent, status, last_seen_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
ON CONFLICT (device_id) DO UPDATE SET
  display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), devices.display_name),
  kind         = COALESCE(NULLIF(EXCLUDED.kind, ''), devices.kind),
  user_agent   = COALESCE(NULLIF(EXCLUDED.user_agent, ''), devices.user_agent),
  status       = EXCLUDED.status,
  last_seen_at = EXCLUDED.last_seen_at
WHERE devices.user_id = EXCLUDED.user_id
RETURNING ` + deviceCols
	row := r.db.Pool.QueryRow(ctx, q, d.ID, d.UserID, d.DisplayName, d.Kind, d.UserAgent, string(d.Status), d.LastSeenAt)
	out, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Device{}, errs.ErrDeviceOwnership
		}
		return model.Device{}, err
	}
	return out, nil
}

// Get selects a device by ID.
func (r *DeviceRepo) Get(ctx context.Context, id string) (*model.Device, error) {
	q := `SELECT ` + deviceCols + ` FROM devices WHERE device_id=$1`
	d, err := scanDevice(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListByUser returns the user's devices ordered by last_seen_at DESC.
func (r *DeviceRepo) ListByUser(ctx context.Context, userID string) ([]model.Device, error) {
	q := `SELECT ` + deviceCols + ` FROM devices WHERE user_id=$1 ORDER BY last_seen_at DESC, device_id`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Touch updates last_seen_at.
func (r *DeviceRepo) Touch(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE devices SET last_seen_at=$2 WHERE device_id=$1`
	return r.exec(ctx, q, id, at)
}

// SetStatus updates status and last_seen_at.
func (r *DeviceRepo) SetStatus(ctx context.Context, id string, st model.DeviceStatus, at time.Time) error {
	const q = `UPDATE devices SET status=$2, last_seen_at=$3 WHERE device_id=$1`
	return r.exec(ctx, q, id, string(st), at)
}

// SetStatusIf updates status only when the stored status is from.
func (r *DeviceRepo) SetStatusIf(ctx context.Context, id string, from, to model.DeviceStatus, at time.Time) (bool, error) {
	const q = `UPDATE devices SET status=$3, last_seen_at=$4 WHERE device_id=$1 AND status=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSynced updates last_sync_at and last_seen_at.
func (r *DeviceRepo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE devices SET last_sync_at=$2, last_seen_at=$2 WHERE device_id=$1`
	return r.exec(ctx, q, id, at)
}

func (r *DeviceRepo) exec(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanDevice(row pgx.Row) (model.Device, error) {
	var (
		d        model.Device
		status   string
		lastSync *time.Time
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.DisplayName, &d.Kind, &d.UserAgent, &status,
		&d.LastSeenAt, &lastSync, &d.CreatedAt); err != nil {
		return model.Device{}, err
	}
	d.Status = model.DeviceStatus(status)
	d.LastSyncAt = lastSync
	return d, nil
}
