package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/AlAfiz/starked-education/internal/model"
)

// Hub fans events out to per-user subscribers. A slow subscriber loses
// events instead of stalling the others.
type Hub struct {
	log    *zap.Logger
	mu     sync.RWMutex
	next   uint64
	closed bool
	subs   map[string]map[uint64]chan model.SyncEvent
}

// NewHub constructs an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, subs: make(map[string]map[uint64]chan model.SyncEvent)}
}

// Subscribe registers a subscriber for userID. The returned cancel func
// unregisters it and closes the channel; it is safe to call more than once.
// After Close the channel comes back already closed.
func (h *Hub) Subscribe(userID string, buffer int) (<-chan model.SyncEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan model.SyncEvent, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.next++
	id := h.next
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[uint64]chan model.SyncEvent)
	}
	h.subs[userID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[userID][id]; !ok {
				return // already closed by Close
			}
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			close(ch)
		})
	}
}

// Close ends every subscription so stream handlers can return.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for user, subs := range h.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subs, user)
	}
}

// Subscribers returns the number of live subscribers of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Send implements Sink.
func (h *Hub) Send(_ context.Context, ev model.SyncEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
			h.log.Debug("subscriber slow, event dropped",
				zap.String("user_id", ev.UserID),
				zap.Uint64("subscriber", id))
		}
	}
	return nil
}

// LogSink writes every event to the logger.
type LogSink struct{ Log *zap.Logger }

// Send implements Sink.
func (s LogSink) Send(_ context.Context, ev model.SyncEvent) error {
	if s.Log == nil {
		return nil
	}
	s.Log.Info("sync event",
		zap.String("event", ev.Name),
		zap.String("user_id", ev.UserID),
		zap.String("device_id", ev.DeviceID),
		zap.String("entity_type", string(ev.EntityType)),
		zap.String("entity_id", ev.EntityID),
		zap.Int64("version", ev.Version),
		zap.Bool("conflict_resolved", ev.ConflictResolved),
		zap.String("strategy", string(ev.Strategy)))
	return nil
}
