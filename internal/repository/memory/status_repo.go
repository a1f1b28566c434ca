package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/AlAfiz/starked-education/internal/conflict"
	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

// StatusRepo implements SyncStatusRepository over a map keyed by entity.
type StatusRepo struct {
	mu   sync.RWMutex
	rows map[model.EntityKey]model.SyncStatus
}

// NewStatusRepo constructs an empty status repository.
func NewStatusRepo() *StatusRepo {
	return &StatusRepo{rows: make(map[model.EntityKey]model.SyncStatus)}
}

// Get returns the stored state of an entity.
func (r *StatusRepo) Get(_ context.Context, key model.EntityKey) (*model.SyncStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.rows[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	st.Payload = conflict.Clone(st.Payload)
	return &st, nil
}

// List returns the user's rows matching the optional filters, ordered by type and ID.
func (r *StatusRepo) List(_ context.Context, userID string, entityType model.EntityType, entityID string) ([]model.SyncStatus, error) {
	r.mu.RLock()
	out := make([]model.SyncStatus, 0)
	for k, st := range r.rows {
		if k.UserID != userID {
			continue
		}
		if entityType != "" && k.EntityType != entityType {
			continue
		}
		if entityID != "" && k.EntityID != entityID {
			continue
		}
		st.Payload = conflict.Clone(st.Payload)
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

// CompareAndSwap stores st if the current version equals expected.
func (r *StatusRepo) CompareAndSwap(_ context.Context, st model.SyncStatus, expected int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := st.Key()
	var curVer int64
	if cur, ok := r.rows[key]; ok {
		curVer = cur.Version
	}
	if curVer != expected {
		return errs.ErrVersionConflict
	}
	st.Payload = conflict.Clone(st.Payload)
	r.rows[key] = st
	return nil
}
