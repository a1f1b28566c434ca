// Package notify delivers sync outcome events to interested parties without
// blocking the caller that produced them.
package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/AlAfiz/starked-education/internal/model"
)

// DefaultBuffer is the event buffer size used when New gets a non-positive one.
const DefaultBuffer = 256

// Sink receives events from the notifier worker.
type Sink interface {
	Send(ctx context.Context, ev model.SyncEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev model.SyncEvent) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, ev model.SyncEvent) error { return f(ctx, ev) }

// Notifier buffers events and hands them to its sinks on a single worker
// goroutine. Emit never blocks: when the buffer is full the event is dropped.
type Notifier struct {
	log   *zap.Logger
	sinks []Sink
	ch    chan model.SyncEvent
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts a notifier with the given buffer size and sinks.
func New(buffer int, log *zap.Logger, sinks ...Sink) *Notifier {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	n := &Notifier{
		log:   log,
		sinks: sinks,
		ch:    make(chan model.SyncEvent, buffer),
		done:  make(chan struct{}),
	}
	go n.run()
	return n
}

// Emit queues ev for delivery.
func (n *Notifier) Emit(ev model.SyncEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.ch <- ev:
	default:
		n.log.Warn("notifier buffer full, event dropped",
			zap.String("event", ev.Name),
			zap.String("user_id", ev.UserID),
			zap.String("entity_type", string(ev.EntityType)),
			zap.String("entity_id", ev.EntityID),
			zap.Int64("version", ev.Version))
	}
}

// Close stops accepting events and waits until buffered ones are delivered.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.ch)
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	ctx := context.Background()
	for ev := range n.ch {
		for _, s := range n.sinks {
			if err := n.deliver(ctx, s, ev); err != nil {
				n.log.Warn("event delivery failed",
					zap.String("event", ev.Name),
					zap.String("user_id", ev.UserID),
					zap.Error(err))
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, s Sink, ev model.SyncEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return s.Send(ctx, ev)
}
