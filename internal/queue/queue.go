// Package queue implements the offline operation queue: pending client writes
// held until a processing handler can apply them, with bounded retries.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
	"github.com/AlAfiz/starked-education/internal/repository"
)

// Default limits. New applies the size and retry defaults to zero fields.
const (
	DefaultMaxSize    = 1000
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// Handler applies one queued operation. A nil error removes the item.
type Handler func(ctx context.Context, op model.QueuedOperation) error

// Config holds queue limits.
type Config struct {
	MaxSize    int           // enqueue fails once this many items are pending
	MaxRetries int           // failed attempts before an item is dropped
	RetryDelay time.Duration // pause after every failed attempt; zero disables it
}

// Queue is a FIFO of pending operations backed by a QueueRepository.
// Only one drain runs at a time.
type Queue struct {
	repo repository.QueueRepository
	cfg  Config
	log  *zap.Logger

	mu sync.Mutex // serializes the capacity check with the append

	hmu     sync.RWMutex
	handler Handler

	processing atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a queue.
func New(repo repository.QueueRepository, cfg Config, log *zap.Logger) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		repo:  repo,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Config returns the effective limits.
func (q *Queue) Config() Config { return q.cfg }

// SetProcessHandler installs the function that applies queued items.
func (q *Queue) SetProcessHandler(h Handler) {
	q.hmu.Lock()
	q.handler = h
	q.hmu.Unlock()
}

func (q *Queue) currentHandler() Handler {
	q.hmu.RLock()
	defer q.hmu.RUnlock()
	return q.handler
}

// Enqueue validates op, assigns ID, QueuedAt and a zero retry count, and appends it.
// Returns an error wrapping errs.ErrQueueFull when the queue is at capacity;
// the queue is left untouched in that case.
func (q *Queue) Enqueue(ctx context.Context, op model.QueuedOperation) (model.QueuedOperation, error) {
	if err := validate(&op); err != nil {
		return model.QueuedOperation{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := q.repo.Count(ctx)
	if err != nil {
		return model.QueuedOperation{}, err
	}
	if n >= q.cfg.MaxSize {
		return model.QueuedOperation{}, fmt.Errorf("%w (max %d)", errs.ErrQueueFull, q.cfg.MaxSize)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.QueuedOperation{}, fmt.Errorf("queue id: %w", err)
	}
	op.ID = id
	op.QueuedAt = q.now().UTC()
	op.RetryCount = 0
	op.LastError = ""

	if err := q.repo.Append(ctx, op); err != nil {
		return model.QueuedOperation{}, err
	}
	q.log.Debug("operation queued",
		zap.String("id", op.ID.String()),
		zap.String("user_id", op.UserID),
		zap.String("device_id", op.DeviceID),
		zap.String("entity_type", string(op.EntityType)),
		zap.String("entity_id", op.EntityID),
		zap.Int("pending", n+1))
	return op, nil
}

func validate(op *model.QueuedOperation) error {
	switch {
	case op.UserID == "":
		return fmt.Errorf("%w: empty userID", errs.ErrValidation)
	case op.DeviceID == "":
		return fmt.Errorf("%w: empty deviceID", errs.ErrValidation)
	case op.EntityType == "":
		return fmt.Errorf("%w: empty entityType", errs.ErrValidation)
	case op.EntityID == "":
		return fmt.Errorf("%w: empty entityID", errs.ErrValidation)
	case op.Version < 0:
		return fmt.Errorf("%w: negative version", errs.ErrValidation)
	}
	switch op.Operation {
	case "":
		op.Operation = model.OpUpdate
	case model.OpCreate, model.OpUpdate, model.OpDelete:
	default:
		return fmt.Errorf("%w: unknown operation %q", errs.ErrValidation, op.Operation)
	}
	return nil
}

// ProcessQueue drains every pending item in enqueue order.
func (q *Queue) ProcessQueue(ctx context.Context) (model.DrainResult, error) {
	return q.drain(ctx, "")
}

// ProcessQueueForUser drains only the items of userID.
func (q *Queue) ProcessQueueForUser(ctx context.Context, userID string) (model.DrainResult, error) {
	if userID == "" {
		return model.DrainResult{}, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	return q.drain(ctx, userID)
}

// drain walks a snapshot of the queue sequentially. A failed item stays in
// place and later items with the same order key are held back until the next
// drain, so operations on one entity never apply out of order.
func (q *Queue) drain(ctx context.Context, userID string) (model.DrainResult, error) {
	var res model.DrainResult
	if !q.processing.CompareAndSwap(false, true) {
		return res, errs.ErrDrainInProgress
	}
	defer q.processing.Store(false)

	h := q.currentHandler()
	if h == nil {
		q.log.Warn("queue drain skipped: no process handler", zap.String("user_id", userID))
		return res, nil
	}

	ops, err := q.repo.List(ctx, userID)
	if err != nil {
		return res, err
	}

	held := make(map[string]struct{})
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		key := op.OrderKey()
		if _, ok := held[key]; ok {
			continue
		}

		herr := h(ctx, op)
		if herr == nil {
			if err := q.repo.Delete(ctx, op.ID); err != nil {
				return res, err
			}
			res.Processed++
			continue
		}

		res.Failed++
		op.RetryCount++
		op.LastError = herr.Error()
		if op.RetryCount >= q.cfg.MaxRetries {
			if err := q.repo.Delete(ctx, op.ID); err != nil {
				return res, err
			}
			res.Dropped++
			q.log.Warn("lost update: queued operation dropped after retries",
				zap.String("id", op.ID.String()),
				zap.String("user_id", op.UserID),
				zap.String("device_id", op.DeviceID),
				zap.String("entity_type", string(op.EntityType)),
				zap.String("entity_id", op.EntityID),
				zap.String("operation", string(op.Operation)),
				zap.Int("retry_count", op.RetryCount),
				zap.String("last_error", op.LastError))
		} else {
			// The item may have been removed by Clear while the handler ran.
			if err := q.repo.Update(ctx, op); err != nil && !errors.Is(err, errs.ErrNotFound) {
				return res, err
			}
			held[key] = struct{}{}
			q.log.Info("queued operation failed, will retry",
				zap.String("id", op.ID.String()),
				zap.String("entity_type", string(op.EntityType)),
				zap.String("entity_id", op.EntityID),
				zap.Int("retry_count", op.RetryCount),
				zap.Error(herr))
		}

		if err := q.sleep(ctx, q.cfg.RetryDelay); err != nil {
			return res, err
		}
	}

	if len(ops) > 0 {
		q.log.Info("queue drained",
			zap.String("user_id", userID),
			zap.Int("processed", res.Processed),
			zap.Int("failed", res.Failed),
			zap.Int("dropped", res.Dropped))
	}
	return res, nil
}

// PendingCount returns the number of queued items.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.repo.Count(ctx)
}

// PendingItems returns a snapshot of pending items; empty userID lists all users.
func (q *Queue) PendingItems(ctx context.Context, userID string) ([]model.QueuedOperation, error) {
	return q.repo.List(ctx, userID)
}

// IsProcessing reports whether a drain is in flight.
func (q *Queue) IsProcessing() bool { return q.processing.Load() }

// Status returns the pending count and processing flag.
func (q *Queue) Status(ctx context.Context) (model.QueueStatus, error) {
	n, err := q.repo.Count(ctx)
	if err != nil {
		return model.QueueStatus{}, err
	}
	return model.QueueStatus{PendingCount: n, IsProcessing: q.IsProcessing()}, nil
}

// Clear empties the queue unconditionally.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.repo.Clear(ctx); err != nil {
		return err
	}
	q.log.Info("queue cleared")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
