package repository

import (
	"context"

	"github.com/AlAfiz/starked-education/internal/model"
)

// SyncStatusRepository provides versioned access to per-entity sync state.
type SyncStatusRepository interface {
	// Get returns the current state of an entity.
	Get(ctx context.Context, key model.EntityKey) (*model.SyncStatus, error)
	// List returns a user's rows; empty entityType/entityID match everything.
	List(ctx context.Context, userID string, entityType model.EntityType, entityID string) ([]model.SyncStatus, error)
	// CompareAndSwap stores st only if the stored version equals expected
	// (0 means the row must not exist yet). Returns errs.ErrVersionConflict otherwise.
	CompareAndSwap(ctx context.Context, st model.SyncStatus, expected int64) error
}
