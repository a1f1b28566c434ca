package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

// QueueRepo implements QueueRepository using SQLite. The autoincrement seq
// column keeps enqueue order.
type QueueRepo struct{ db *DB }

// NewQueueRepo constructs a queue repository.
func NewQueueRepo(db *DB) *QueueRepo { return &QueueRepo{db: db} }

const queueCols = `id, user_id, device_id, entity_type, entity_id, operation, payload, version, queued_at, retry_count, last_error`

// Append inserts op at the tail of the queue.
func (r *QueueRepo) Append(ctx context.Context, op model.QueuedOperation) error {
	payload, err := marshalPayload(op.Payload)
	if err != nil {
		return err
	}
	const q = `INSERT INTO queued_operations (` + queueCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.SQL.ExecContext(ctx, q, op.ID.String(), op.UserID, op.DeviceID, string(op.EntityType), op.EntityID,
		string(op.Operation), payload, op.Version, toNanos(op.QueuedAt), op.RetryCount, op.LastError)
	return err
}

// List returns pending operations ordered by seq.
func (r *QueueRepo) List(ctx context.Context, userID string) ([]model.QueuedOperation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = r.db.SQL.QueryContext(ctx, `SELECT `+queueCols+` FROM queued_operations ORDER BY seq`)
	} else {
		rows, err = r.db.SQL.QueryContext(ctx, `SELECT `+queueCols+` FROM queued_operations WHERE user_id = ? ORDER BY seq`, userID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.QueuedOperation, 0)
	for rows.Next() {
		var (
			op         model.QueuedOperation
			id         string
			entityType string
			operation  string
			payload    sql.NullString
			queuedAt   int64
		)
		if err = rows.Scan(&id, &op.UserID, &op.DeviceID, &entityType, &op.EntityID, &operation,
			&payload, &op.Version, &queuedAt, &op.RetryCount, &op.LastError); err != nil {
			return nil, err
		}
		if op.ID, err = uuid.FromString(id); err != nil {
			return nil, fmt.Errorf("queued operation id %q: %w", id, err)
		}
		op.EntityType = model.EntityType(entityType)
		op.Operation = model.Operation(operation)
		op.QueuedAt = fromNanos(queuedAt)
		if op.Payload, err = unmarshalPayload(payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", op.ID, err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Update stores retry bookkeeping.
func (r *QueueRepo) Update(ctx context.Context, op model.QueuedOperation) error {
	res, err := r.db.SQL.ExecContext(ctx,
		`UPDATE queued_operations SET retry_count = ?, last_error = ? WHERE id = ?`,
		op.RetryCount, op.LastError, op.ID.String())
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

// Delete removes an operation by ID.
func (r *QueueRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.SQL.ExecContext(ctx, `DELETE FROM queued_operations WHERE id = ?`, id.String())
	return err
}

// Count returns the queue length.
func (r *QueueRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_operations`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Clear deletes every queued operation.
func (r *QueueRepo) Clear(ctx context.Context) error {
	_, err := r.db.SQL.ExecContext(ctx, `DELETE FROM queued_operations`)
	return err
}
