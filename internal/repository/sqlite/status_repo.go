package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

// StatusRepo implements SyncStatusRepository using SQLite.
type StatusRepo struct{ db *DB }

// NewStatusRepo constructs a sync status repository.
func NewStatusRepo(db *DB) *StatusRepo { return &StatusRepo{db: db} }

const statusCols = `user_id, entity_type, entity_id, version, last_modified_at, last_modified_by, payload, deleted`

// Get returns a single entity row.
func (r *StatusRepo) Get(ctx context.Context, key model.EntityKey) (*model.SyncStatus, error) {
	q := `SELECT ` + statusCols + ` FROM sync_status WHERE user_id = ? AND entity_type = ? AND entity_id = ?`
	st, err := scanStatus(r.db.SQL.QueryRowContext(ctx, q, key.UserID, string(key.EntityType), key.EntityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// List returns the user's rows filtered by the optional type and ID.
func (r *StatusRepo) List(ctx context.Context, userID string, entityType model.EntityType, entityID string) ([]model.SyncStatus, error) {
	q := `SELECT ` + statusCols + ` FROM sync_status WHERE user_id = ?`
	args := []any{userID}
	if entityType != "" {
		q += ` AND entity_type = ?`
		args = append(args, string(entityType))
	}
	if entityID != "" {
		q += ` AND entity_id = ?`
		args = append(args, entityID)
	}
	q += ` ORDER BY entity_type, entity_id`

	rows, err := r.db.SQL.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.SyncStatus, 0)
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CompareAndSwap inserts (expected == 0) or updates the row guarded by its current version.
func (r *StatusRepo) CompareAndSwap(ctx context.Context, st model.SyncStatus, expected int64) error {
	payload, err := marshalPayload(st.Payload)
	if err != nil {
		return err
	}
	if !payload.Valid {
		payload = sql.NullString{String: "{}", Valid: true}
	}

	const ins = `
INSERT INTO sync_status (user_id, entity_type, entity_id, version, last_modified_at, last_modified_by, payload, deleted)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)
ON CONFLICT (user_id, entity_type, entity_id) DO NOTHING`
	const upd = `
UPDATE sync_status
SET version = ?4, last_modified_at = ?5, last_modified_by = ?6, payload = ?7, deleted = ?8
WHERE user_id = ?1 AND entity_type = ?2 AND entity_id = ?3 AND version = ?9`

	args := []any{st.UserID, string(st.EntityType), st.EntityID, st.Version,
		toNanos(st.LastModifiedAt), st.LastModifiedByDeviceID, payload, st.Deleted}
	q := ins
	if expected != 0 {
		q = upd
		args = append(args, expected)
	}
	res, err := r.db.SQL.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

func scanStatus(row scanner) (model.SyncStatus, error) {
	var (
		st         model.SyncStatus
		entityType string
		modifiedAt int64
		payload    sql.NullString
	)
	if err := row.Scan(&st.UserID, &entityType, &st.EntityID, &st.Version, &modifiedAt,
		&st.LastModifiedByDeviceID, &payload, &st.Deleted); err != nil {
		return model.SyncStatus{}, err
	}
	st.EntityType = model.EntityType(entityType)
	st.LastModifiedAt = fromNanos(modifiedAt)
	p, err := unmarshalPayload(payload)
	if err != nil {
		return model.SyncStatus{}, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		p = model.Payload{}
	}
	st.Payload = p
	return st, nil
}
