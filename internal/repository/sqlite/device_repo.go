package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

// DeviceRepo implements DeviceRepository using SQLite.
type DeviceRepo struct{ db *DB }

// NewDeviceRepo constructs a device repository.
func NewDeviceRepo(db *DB) *DeviceRepo { return &DeviceRepo{db: db} }

const deviceCols = `device_id, user_id, display_name, kind, user_agent, status, last_seen_at, last_sync_at, created_at`

// Upsert inserts or refreshes a device row. A device owned by another user
// matches the conflict but not its WHERE, so nothing is returned.
func (r *DeviceRepo) Upsert(ctx context.Context, d model.Device) (model.Device, error) {
	const q = `
INSERT INTO devices (device_id, user_id, display_name, kind, user_agent, status, last_seen_at, created_at)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?7)
ON CONFLICT (device_id) DO UPDATE SET
  display_name = COALESCE(NULLIF(excluded.display_name, ''), devices.display_name),
  kind         = COALESCE(NULLIF(excluded.kind, ''), devices.kind),
  user_agent   = COALESCE(NULLIF(excluded.user_agent, ''), devices.user_agent),
  status       = excluded.status,
  last_seen_at = excluded.last_seen_at
WHERE devices.user_id = excluded.user_id
RETURNING ` + deviceCols
	row := r.db.SQL.QueryRowContext(ctx, q, d.ID, d.UserID, d.DisplayName, d.Kind, d.UserAgent,
		string(d.Status), toNanos(d.LastSeenAt))
	out, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Device{}, errs.ErrDeviceOwnership
		}
		return model.Device{}, err
	}
	return out, nil
}

// Get selects a device by ID.
func (r *DeviceRepo) Get(ctx context.Context, id string) (*model.Device, error) {
	d, err := scanDevice(r.db.SQL.QueryRowContext(ctx, `SELECT `+deviceCols+` FROM devices WHERE device_id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListByUser returns the user's devices, most recently seen first.
func (r *DeviceRepo) ListByUser(ctx context.Context, userID string) ([]model.Device, error) {
	rows, err := r.db.SQL.QueryContext(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE user_id = ? ORDER BY last_seen_at DESC, device_id`, userID)
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
	return r.exec(ctx, `UPDATE devices SET last_seen_at = ?2 WHERE device_id = ?1`, id, toNanos(at))
}

// SetStatus updates status and last_seen_at.
func (r *DeviceRepo) SetStatus(ctx context.Context, id string, st model.DeviceStatus, at time.Time) error {
	return r.exec(ctx, `UPDATE devices SET status = ?2, last_seen_at = ?3 WHERE device_id = ?1`,
		id, string(st), toNanos(at))
}

// SetStatusIf updates status only when the stored status is from.
func (r *DeviceRepo) SetStatusIf(ctx context.Context, id string, from, to model.DeviceStatus, at time.Time) (bool, error) {
	res, err := r.db.SQL.ExecContext(ctx,
		`UPDATE devices SET status = ?3, last_seen_at = ?4 WHERE device_id = ?1 AND status = ?2`,
		id, string(from), string(to), toNanos(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkSynced updates last_sync_at and last_seen_at.
func (r *DeviceRepo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE devices SET last_sync_at = ?2, last_seen_at = ?2 WHERE device_id = ?1`,
		id, toNanos(at))
}

func (r *DeviceRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.SQL.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanDevice(row scanner) (model.Device, error) {
	var (
		d                 model.Device
		status            string
		lastSeen, created int64
		lastSync          sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.DisplayName, &d.Kind, &d.UserAgent, &status,
		&lastSeen, &lastSync, &created); err != nil {
		return model.Device{}, err
	}
	d.Status = model.DeviceStatus(status)
	d.LastSeenAt = fromNanos(lastSeen)
	d.CreatedAt = fromNanos(created)
	if lastSync.Valid {
		t := fromNanos(lastSync.Int64)
		d.LastSyncAt = &t
	}
	return d, nil
}
