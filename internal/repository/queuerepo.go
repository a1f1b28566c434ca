package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/AlAfiz/starked-education/internal/model"
)

// QueueRepository stores pending offline operations in enqueue order.
type QueueRepository interface {
	// Append adds op at the tail.
	Append(ctx context.Context, op model.QueuedOperation) error
	// List returns pending operations in enqueue order; empty userID lists all users.
	List(ctx context.Context, userID string) ([]model.QueuedOperation, error)
	// Update persists retry bookkeeping (retry count, last error) of op.
	Update(ctx context.Context, op model.QueuedOperation) error
	// Delete removes an operation; deleting a missing ID is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
	// Count returns the number of pending operations.
	Count(ctx context.Context) (int, error)
	// Clear removes every pending operation.
	Clear(ctx context.Context) error
}
