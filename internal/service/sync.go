package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/AlAfiz/starked-education/internal/conflict"
	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
	"github.com/AlAfiz/starked-education/internal/queue"
	"github.com/AlAfiz/starked-education/internal/repository"
)

// SyncCoordinator orchestrates entity sync and the offline queue.
type SyncCoordinator interface {
	// SyncEntity resolves in against the stored state and persists the next version.
	// An empty strategy selects the entity type default.
	SyncEntity(ctx context.Context, in model.SyncInput, strategy string) (model.SyncResult, error)
	// GetSyncStatus returns the user's entity states; empty filters match all.
	GetSyncStatus(ctx context.Context, userID string, entityType model.EntityType, entityID string) ([]model.SyncStatus, error)
	// ConflictHistory returns recent conflicts of one entity, oldest first.
	ConflictHistory(userID string, entityType model.EntityType, entityID string) []model.ConflictRecord

	Enqueue(ctx context.Context, op model.QueuedOperation) (model.QueuedOperation, error)
	ProcessQueue(ctx context.Context) (model.DrainResult, error)
	ProcessQueueForUser(ctx context.Context, userID string) (model.DrainResult, error)
	QueueStatus(ctx context.Context) (model.QueueStatus, error)
	PendingItems(ctx context.Context, userID string) ([]model.QueuedOperation, error)
	ClearQueue(ctx context.Context) error
}

// Emitter is the push delivery port. Emit must not block.
type Emitter interface {
	Emit(ev model.SyncEvent)
}

const (
	maxCASDelay = 250 * time.Millisecond

	drainRetryBase = 10 * time.Millisecond
	drainRetryMax  = time.Second
)

// SyncConfig tunes the coordinator.
type SyncConfig struct {
	CASRetries   int           // extra attempts after a version conflict on write
	CASBaseDelay time.Duration // first backoff step between attempts
	HistorySize  int           // conflict records kept per entity; 0 disables
}

type SyncCoordinatorImpl struct {
	status  repository.SyncStatusRepository
	devices DeviceRegistry
	queue   *queue.Queue
	events  Emitter
	log     *zap.Logger
	cfg     SyncConfig
	now     func() time.Time
	history *conflictHistory

	mu      sync.Mutex
	closing bool
	drains  sync.WaitGroup
	bg      context.Context
	stop    context.CancelFunc
}

// NewSyncCoordinator wires the coordinator and installs itself as the queue's
// process handler. events may be nil.
func NewSyncCoordinator(status repository.SyncStatusRepository, devices DeviceRegistry, q *queue.Queue,
	events Emitter, cfg SyncConfig, log *zap.Logger) *SyncCoordinatorImpl {
	if cfg.CASRetries < 0 {
		cfg.CASRetries = 0
	}
	if cfg.CASBaseDelay <= 0 {
		cfg.CASBaseDelay = 5 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	bg, stop := context.WithCancel(context.Background())
	c := &SyncCoordinatorImpl{
		status:  status,
		devices: devices,
		queue:   q,
		events:  events,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
		history: newConflictHistory(cfg.HistorySize),
		bg:      bg,
		stop:    stop,
	}
	q.SetProcessHandler(c.applyQueued)
	return c
}

func validateSync(in *model.SyncInput) error {
	switch {
	case in.UserID == "":
		return fmt.Errorf("%w: empty userID", errs.ErrValidation)
	case in.DeviceID == "":
		return fmt.Errorf("%w: empty deviceID", errs.ErrValidation)
	case in.EntityType == "":
		return fmt.Errorf("%w: empty entityType", errs.ErrValidation)
	case in.EntityID == "":
		return fmt.Errorf("%w: empty entityID", errs.ErrValidation)
	case in.Version < 0:
		return fmt.Errorf("%w: negative version", errs.ErrValidation)
	}
	switch in.Operation {
	case "":
		in.Operation = model.OpUpdate
	case model.OpCreate, model.OpUpdate, model.OpDelete:
	default:
		return fmt.Errorf("%w: unknown operation %q", errs.ErrValidation, in.Operation)
	}
	return nil
}

// SyncEntity reads the current state, resolves the conflict if any and writes
// version+1 with a compare-and-swap. A lost race rereads and resolves again,
// so writers to one entity are serialized by the stored version.
func (c *SyncCoordinatorImpl) SyncEntity(ctx context.Context, in model.SyncInput, strategyName string) (model.SyncResult, error) {
	if err := validateSync(&in); err != nil {
		return model.SyncResult{}, err
	}

	strategy := conflict.DefaultStrategy(in.EntityType)
	if strategyName != "" {
		if _, ok := conflict.ParseStrategy(strategyName); !ok {
			c.log.Warn("unknown conflict strategy, falling back to last-write-wins",
				zap.String("strategy", strategyName),
				zap.String("entity_type", string(in.EntityType)),
				zap.String("entity_id", in.EntityID))
		}
		strategy = model.Strategy(strategyName)
	}

	clientAt := in.UpdatedAt
	if clientAt.IsZero() {
		clientAt = c.now()
	}

	var (
		out model.SyncResult
		rec *model.ConflictRecord
	)
	b := retry.NewExponential(c.cfg.CASBaseDelay)
	b = retry.WithCappedDuration(maxCASDelay, b)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(uint64(c.cfg.CASRetries), b)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var (
			serverVersion int64
			serverAt      = time.Unix(0, 0).UTC()
			serverPayload = model.Payload{}
		)
		cur, err := c.status.Get(ctx, in.Key())
		switch {
		case err == nil:
			serverVersion, serverAt, serverPayload = cur.Version, cur.LastModifiedAt, cur.Payload
		case errors.Is(err, errs.ErrNotFound):
		default:
			return err
		}

		res := conflict.Resolve(conflict.Input{
			ServerVersion:   serverVersion,
			ServerUpdatedAt: serverAt,
			ServerPayload:   serverPayload,
			ClientVersion:   in.Version,
			ClientUpdatedAt: clientAt,
			ClientPayload:   in.Payload,
		}, strategy)

		now := c.now().UTC()
		next := model.SyncStatus{
			UserID:                 in.UserID,
			EntityType:             in.EntityType,
			EntityID:               in.EntityID,
			Version:                serverVersion + 1,
			LastModifiedAt:         now,
			LastModifiedByDeviceID: in.DeviceID,
			Payload:                res.Payload,
		}
		if next.Payload == nil {
			next.Payload = model.Payload{}
		}
		if in.Operation == model.OpDelete {
			next.Payload = model.Payload{}
			next.Deleted = true
		}

		if err := c.status.CompareAndSwap(ctx, next, serverVersion); err != nil {
			if errors.Is(err, errs.ErrVersionConflict) {
				c.log.Debug("sync lost version race, retrying",
					zap.String("entity_type", string(in.EntityType)),
					zap.String("entity_id", in.EntityID),
					zap.Int64("expected", serverVersion))
				return retry.RetryableError(err)
			}
			return err
		}

		out = model.SyncResult{
			Success:          true,
			Version:          next.Version,
			LastModifiedAt:   now,
			Payload:          conflict.Clone(next.Payload),
			Deleted:          next.Deleted,
			ConflictResolved: res.ConflictDetected,
			Strategy:         res.Strategy,
			WinningSource:    res.WinningSource,
			Message:          res.Message,
		}
		rec = nil
		if res.ConflictDetected {
			rec = &model.ConflictRecord{
				EntityType:      in.EntityType,
				EntityID:        in.EntityID,
				DeviceID:        in.DeviceID,
				ServerPayload:   conflict.Clone(serverPayload),
				ClientPayload:   conflict.Clone(in.Payload),
				Strategy:        res.Strategy,
				ResolvedPayload: conflict.Clone(next.Payload),
				WinningSource:   res.WinningSource,
				DetectedAt:      now,
			}
		}
		return nil
	})
	if err != nil {
		return model.SyncResult{}, err
	}

	if rec != nil {
		c.history.add(in.Key(), *rec)
		c.log.Info("conflict resolved",
			zap.String("user_id", in.UserID),
			zap.String("device_id", in.DeviceID),
			zap.String("entity_type", string(in.EntityType)),
			zap.String("entity_id", in.EntityID),
			zap.String("strategy", string(rec.Strategy)),
			zap.String("winner", string(rec.WinningSource)),
			zap.Int64("version", out.Version))
	}

	if err := c.devices.MarkSynced(ctx, in.DeviceID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		c.log.Warn("mark device synced failed", zap.String("device_id", in.DeviceID), zap.Error(err))
	}

	c.emit(model.SyncEvent{
		Name:             model.EventSyncComplete,
		UserID:           in.UserID,
		DeviceID:         in.DeviceID,
		EntityType:       in.EntityType,
		EntityID:         in.EntityID,
		Version:          out.Version,
		ConflictResolved: out.ConflictResolved,
		Strategy:         out.Strategy,
		At:               out.LastModifiedAt,
	})
	return out, nil
}

func (c *SyncCoordinatorImpl) emit(ev model.SyncEvent) {
	if c.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event emit panicked", zap.Any("panic", r), zap.String("event", ev.Name))
		}
	}()
	c.events.Emit(ev)
}

// GetSyncStatus returns the filtered projection of stored entity states.
func (c *SyncCoordinatorImpl) GetSyncStatus(ctx context.Context, userID string, entityType model.EntityType, entityID string) ([]model.SyncStatus, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	return c.status.List(ctx, userID, entityType, entityID)
}

// ConflictHistory returns the retained conflict records of one entity.
func (c *SyncCoordinatorImpl) ConflictHistory(userID string, entityType model.EntityType, entityID string) []model.ConflictRecord {
	return c.history.list(model.EntityKey{UserID: userID, EntityType: entityType, EntityID: entityID})
}

// Enqueue adds an operation to the offline queue.
func (c *SyncCoordinatorImpl) Enqueue(ctx context.Context, op model.QueuedOperation) (model.QueuedOperation, error) {
	return c.queue.Enqueue(ctx, op)
}

// ProcessQueue drains the whole queue through SyncEntity.
func (c *SyncCoordinatorImpl) ProcessQueue(ctx context.Context) (model.DrainResult, error) {
	return c.queue.ProcessQueue(ctx)
}

// ProcessQueueForUser drains one user's items through SyncEntity.
func (c *SyncCoordinatorImpl) ProcessQueueForUser(ctx context.Context, userID string) (model.DrainResult, error) {
	return c.queue.ProcessQueueForUser(ctx, userID)
}

// QueueStatus reports pending count and drain state.
func (c *SyncCoordinatorImpl) QueueStatus(ctx context.Context) (model.QueueStatus, error) {
	return c.queue.Status(ctx)
}

// PendingItems lists queued operations.
func (c *SyncCoordinatorImpl) PendingItems(ctx context.Context, userID string) ([]model.QueuedOperation, error) {
	return c.queue.PendingItems(ctx, userID)
}

// ClearQueue drops every queued operation.
func (c *SyncCoordinatorImpl) ClearQueue(ctx context.Context) error {
	return c.queue.Clear(ctx)
}

// applyQueued is the queue process handler. Queued edits resolve at
// application time so a later queued edit supersedes an earlier one.
func (c *SyncCoordinatorImpl) applyQueued(ctx context.Context, op model.QueuedOperation) error {
	_, err := c.SyncEntity(ctx, model.SyncInput{
		UserID:     op.UserID,
		DeviceID:   op.DeviceID,
		EntityType: op.EntityType,
		EntityID:   op.EntityID,
		Version:    op.Version,
		Payload:    op.Payload,
		Operation:  op.Operation,
	}, "")
	return err
}

// OnDeviceOnline drains the user's queued operations in the background. The
// device is marked syncing for the duration, then online, or error when some
// items failed. A drain already running elsewhere is waited out. Status
// changes made meanwhile, such as an unregister, are kept. Install it with
// DeviceRegistryImpl.SetOnlineHook.
func (c *SyncCoordinatorImpl) OnDeviceOnline(d model.Device) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.drains.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.drains.Done()
		c.drainForDevice(c.bg, d)
	}()
}

func (c *SyncCoordinatorImpl) drainForDevice(ctx context.Context, d model.Device) {
	log := c.log.With(zap.String("user_id", d.UserID), zap.String("device_id", d.ID))

	pending, err := c.queue.PendingItems(ctx, d.UserID)
	if err != nil {
		log.Warn("reconnect drain: list pending failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	if _, err := c.devices.TransitionStatus(ctx, d.ID, model.DeviceOnline, model.DeviceSyncing); err != nil {
		log.Warn("reconnect drain: set syncing failed", zap.Error(err))
	}
	res, err := c.drainUser(ctx, d.UserID)
	final := model.DeviceOnline
	switch {
	case errors.Is(err, context.Canceled):
		log.Info("reconnect drain canceled")
	case err != nil:
		final = model.DeviceError
		log.Warn("reconnect drain failed", zap.Error(err))
	case res.Failed > 0:
		final = model.DeviceError
		log.Warn("reconnect drain finished with failures",
			zap.Int("processed", res.Processed),
			zap.Int("failed", res.Failed),
			zap.Int("dropped", res.Dropped))
	default:
		log.Info("reconnect drain finished", zap.Int("processed", res.Processed))
	}

	// ctx may be canceled by Shutdown; the status write must still land.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	ok, err := c.devices.TransitionStatus(sctx, d.ID, model.DeviceSyncing, final)
	switch {
	case err != nil:
		log.Warn("reconnect drain: restore status failed", zap.Error(err))
	case !ok:
		log.Debug("reconnect drain: device status changed during drain, keeping it")
	}
}

// drainUser runs ProcessQueueForUser, backing off while another drain holds
// the queue.
func (c *SyncCoordinatorImpl) drainUser(ctx context.Context, userID string) (model.DrainResult, error) {
	var res model.DrainResult
	b := retry.NewExponential(drainRetryBase)
	b = retry.WithCappedDuration(drainRetryMax, b)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		res, err = c.queue.ProcessQueueForUser(ctx, userID)
		if errors.Is(err, errs.ErrDrainInProgress) {
			c.log.Debug("reconnect drain waiting for running drain", zap.String("user_id", userID))
			return retry.RetryableError(err)
		}
		return err
	})
	return res, err
}

// Wait blocks until background reconnect drains have finished.
func (c *SyncCoordinatorImpl) Wait() { c.drains.Wait() }

// Shutdown stops accepting reconnect drains and waits for running ones. When
// ctx expires first, running drains are canceled and awaited.
func (c *SyncCoordinatorImpl) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.drains.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.stop()
		return nil
	case <-ctx.Done():
		c.stop()
		<-done
		return ctx.Err()
	}
}
