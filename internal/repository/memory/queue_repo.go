package memory

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

// QueueRepo implements QueueRepository over a slice kept in enqueue order.
type QueueRepo struct {
	mu  sync.Mutex
	ops []model.QueuedOperation
}

// NewQueueRepo constructs an empty queue store.
func NewQueueRepo() *QueueRepo { return &QueueRepo{} }

// Append adds op at the tail.
func (r *QueueRepo) Append(_ context.Context, op model.QueuedOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	return nil
}

// List returns a snapshot of pending operations, optionally for one user.
func (r *QueueRepo) List(_ context.Context, userID string) ([]model.QueuedOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.QueuedOperation, 0, len(r.ops))
	for _, op := range r.ops {
		if userID == "" || op.UserID == userID {
			out = append(out, op)
		}
	}
	return out, nil
}

// Update stores retry bookkeeping in place, keeping the item's position.
func (r *QueueRepo) Update(_ context.Context, op model.QueuedOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ops {
		if r.ops[i].ID == op.ID {
			r.ops[i].RetryCount = op.RetryCount
			r.ops[i].LastError = op.LastError
			return nil
		}
	}
	return errs.ErrNotFound
}

// Delete removes an operation by ID.
func (r *QueueRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ops {
		if r.ops[i].ID == id {
			r.ops = append(r.ops[:i], r.ops[i+1:]...)
			return nil
		}
	}
	return nil
}

// Count returns the number of pending operations.
func (r *QueueRepo) Count(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops), nil
}

// Clear drops everything.
func (r *QueueRepo) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
	return nil
}
