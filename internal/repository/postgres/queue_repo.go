package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

// QueueRepo implements QueueRepository using PostgreSQL. Enqueue order is the
// bigserial seq column, so the queue can be shared by several server instances.
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
	const q = `
INSERT INTO queued_operations (` + queueCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = r.db.Pool.Exec(ctx, q, op.ID, op.UserID, op.DeviceID, string(op.EntityType), op.EntityID,
		string(op.Operation), payload, op.Version, op.QueuedAt, op.RetryCount, op.LastError)
	return err
}

// List returns pending operations ordered by seq.
func (r *QueueRepo) List(ctx context.Context, userID string) ([]model.QueuedOperation, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if userID == "" {
		rows, err = r.db.Pool.Query(ctx, `SELECT `+queueCols+` FROM queued_operations ORDER BY seq`)
	} else {
		rows, err = r.db.Pool.Query(ctx, `SELECT `+queueCols+` FROM queued_operations WHERE user_id=$1 ORDER BY seq`, userID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.QueuedOperation, 0)
	for rows.Next() {
		var (
			op         model.QueuedOperation
			entityType string
			operation  string
			payload    []byte
		)
		if err = rows.Scan(&op.ID, &op.UserID, &op.DeviceID, &entityType, &op.EntityID, &operation,
			&payload, &op.Version, &op.QueuedAt, &op.RetryCount, &op.LastError); err != nil {
			return nil, err
		}
		op.EntityType = model.EntityType(entityType)
		op.Operation = model.Operation(operation)
		if op.Payload, err = unmarshalPayload(payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", op.ID, err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Update stores retry bookkeeping.
func (r *QueueRepo) Update(ctx context.Context, op model.QueuedOperation) error {
	const q = `UPDATE queued_operations SET retry_count=$2, last_error=$3 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, op.ID, op.RetryCount, op.LastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes an operation by ID.
func (r *QueueRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM queued_operations WHERE id=$1`, id)
	return err
}

// Count returns the queue length.
func (r *QueueRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM queued_operations`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Clear deletes every queued operation.
func (r *QueueRepo) Clear(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM queued_operations`)
	return err
}
