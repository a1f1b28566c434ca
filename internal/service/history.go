package service

import (
	"sync"

	"github.com/AlAfiz/starked-education/internal/conflict"
	"github.com/AlAfiz/starked-education/internal/model"
)

// conflictHistory keeps the last n conflict records per entity.
type conflictHistory struct {
	mu   sync.Mutex
	n    int
	recs map[model.EntityKey][]model.ConflictRecord
}

func newConflictHistory(n int) *conflictHistory {
	return &conflictHistory{n: n, recs: make(map[model.EntityKey][]model.ConflictRecord)}
}

func (h *conflictHistory) add(key model.EntityKey, rec model.ConflictRecord) {
	if h.n <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.recs[key], rec)
	if len(list) > h.n {
		list = append([]model.ConflictRecord(nil), list[len(list)-h.n:]...)
	}
	h.recs[key] = list
}

// list returns oldest first.
func (h *conflictHistory) list(key model.EntityKey) []model.ConflictRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	src := h.recs[key]
	out := make([]model.ConflictRecord, len(src))
	for i, r := range src {
		r.ServerPayload = conflict.Clone(r.ServerPayload)
		r.ClientPayload = conflict.Clone(r.ClientPayload)
		r.ResolvedPayload = conflict.Clone(r.ResolvedPayload)
		out[i] = r
	}
	return out
}
