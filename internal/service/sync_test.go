package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
	"github.com/AlAfiz/starked-education/internal/queue"
	"github.com/AlAfiz/starked-education/internal/repository"
	"github.com/AlAfiz/starked-education/internal/repository/memory"
)

type recordEmitter struct {
	mu  sync.Mutex
	evs []model.SyncEvent
}

func (r *recordEmitter) Emit(ev model.SyncEvent) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recordEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.evs)
}

type panicEmitter struct{}

func (panicEmitter) Emit(model.SyncEvent) { panic("push transport gone") }

// flakyStatusRepo wraps a status repository with injectable failures.
type flakyStatusRepo struct {
	repository.SyncStatusRepository
	mu       sync.Mutex
	getErr   error
	casErr   error
	casCalls int

	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (r *flakyStatusRepo) Get(ctx context.Context, key model.EntityKey) (*model.SyncStatus, error) {
	r.mu.Lock()
	err, gate := r.getErr, r.gate
	r.mu.Unlock()
	if gate != nil {
		r.once.Do(func() { close(r.entered) })
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return r.SyncStatusRepository.Get(ctx, key)
}

func (r *flakyStatusRepo) CompareAndSwap(ctx context.Context, st model.SyncStatus, expected int64) error {
	r.mu.Lock()
	r.casCalls++
	err := r.casErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.SyncStatusRepository.CompareAndSwap(ctx, st, expected)
}

func (r *flakyStatusRepo) setGetErr(err error) {
	r.mu.Lock()
	r.getErr = err
	r.mu.Unlock()
}

// block makes Get wait on the returned gate. entered is closed by the first
// blocked Get.
func (r *flakyStatusRepo) block() (gate, entered chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = make(chan struct{})
	r.entered = make(chan struct{})
	return r.gate, r.entered
}

type harness struct {
	coord   *SyncCoordinatorImpl
	reg     *DeviceRegistryImpl
	status  *flakyStatusRepo
	queue   *queue.Queue
	events  *recordEmitter
	clock   *fakeClock
	clockMu sync.Mutex
}

func newHarness(t *testing.T, cfg SyncConfig, qcfg queue.Config) *harness {
	t.Helper()
	h := &harness{
		status: &flakyStatusRepo{SyncStatusRepository: memory.NewStatusRepo()},
		events: &recordEmitter{},
		clock:  newClock(),
	}
	now := func() time.Time {
		h.clockMu.Lock()
		defer h.clockMu.Unlock()
		return h.clock.t
	}
	h.reg = NewDeviceRegistry(memory.NewDeviceRepo(), nil)
	h.reg.now = now
	h.queue = queue.New(memory.NewQueueRepo(), qcfg, nil)
	h.coord = NewSyncCoordinator(h.status, h.reg, h.queue, h.events, cfg, nil)
	h.coord.now = now
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clockMu.Lock()
	h.clock.advance(d)
	h.clockMu.Unlock()
}

func (h *harness) register(t *testing.T, device, user string) {
	t.Helper()
	if _, err := h.reg.RegisterDevice(context.Background(), model.RegisterDevice{DeviceID: device, UserID: user}); err != nil {
		t.Fatalf("register %s: %v", device, err)
	}
}

func progress(device string, version int64, pct int) model.SyncInput {
	return model.SyncInput{
		UserID: "u1", DeviceID: device, EntityType: model.EntityProgress, EntityID: "course-1",
		Version: version, Payload: model.Payload{"pct": pct},
	}
}

func TestSyncEntity_Scenarios(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})
	h.register(t, "d1", "u1")
	h.register(t, "d2", "u1")

	// A: first sync creates version 1
	res, err := h.coord.SyncEntity(ctx, progress("d1", 0, 10), "")
	if err != nil {
		t.Fatalf("A: %v", err)
	}
	if !res.Success || res.Version != 1 || res.ConflictResolved {
		t.Fatalf("A: unexpected %+v", res)
	}

	// B: matching version, no conflict
	h.advance(time.Minute)
	res, err = h.coord.SyncEntity(ctx, progress("d1", 1, 40), "")
	if err != nil {
		t.Fatalf("B: %v", err)
	}
	if res.Version != 2 || res.ConflictResolved || !reflect.DeepEqual(res.Payload, model.Payload{"pct": 40}) {
		t.Fatalf("B: unexpected %+v", res)
	}
	serverAt := res.LastModifiedAt

	// C: stale version with an older edit loses under last-write-wins
	h.advance(time.Minute)
	in := progress("d2", 1, 25)
	in.UpdatedAt = serverAt.Add(-30 * time.Second)
	res, err = h.coord.SyncEntity(ctx, in, string(model.StrategyLastWriteWins))
	if err != nil {
		t.Fatalf("C: %v", err)
	}
	if res.Version != 3 || !res.ConflictResolved || res.WinningSource != model.SourceServer {
		t.Fatalf("C: unexpected %+v", res)
	}
	if !reflect.DeepEqual(res.Payload, model.Payload{"pct": 40}) {
		t.Fatalf("C: payload want server {pct:40}, got %v", res.Payload)
	}

	st, err := h.coord.GetSyncStatus(ctx, "u1", model.EntityProgress, "course-1")
	if err != nil || len(st) != 1 {
		t.Fatalf("status: %v %v", st, err)
	}
	if st[0].Version != 3 || st[0].LastModifiedByDeviceID != "d2" {
		t.Fatalf("stored status %+v", st[0])
	}

	d2, _ := h.reg.GetDevice(ctx, "d2")
	if d2.LastSyncAt == nil || !d2.LastSyncAt.Equal(h.clock.t) {
		t.Fatalf("d2 lastSyncAt not updated: %v", d2.LastSyncAt)
	}
	if h.events.count() != 3 {
		t.Fatalf("events want 3, got %d", h.events.count())
	}
	last := h.events.evs[2]
	if last.Name != model.EventSyncComplete || last.Version != 3 || !last.ConflictResolved || last.Strategy != model.StrategyLastWriteWins {
		t.Fatalf("unexpected event %+v", last)
	}
	if got := h.coord.ConflictHistory("u1", model.EntityProgress, "course-1"); len(got) != 0 {
		t.Fatalf("history disabled by default, got %d records", len(got))
	}
}

func TestSyncEntity_VersionMonotonic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})

	var prev int64
	for i := 0; i < 25; i++ {
		// alternate matching, stale and ahead-of-server versions
		v := []int64{prev, 0, prev + 5}[i%3]
		in := model.SyncInput{UserID: "u1", DeviceID: fmt.Sprintf("d%d", i%2), EntityType: model.EntityNotes,
			EntityID: "n1", Version: v, Payload: model.Payload{"i": i}}
		res, err := h.coord.SyncEntity(ctx, in, "")
		if err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
		if res.Version != prev+1 {
			t.Fatalf("sync %d: version want %d, got %d", i, prev+1, res.Version)
		}
		prev = res.Version
	}
}

func TestSyncEntity_ConcurrentSameEntity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{CASRetries: 64, CASBaseDelay: time.Millisecond}, queue.Config{})

	const n = 16
	versions := make([]int64, n)
	failures := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.coord.SyncEntity(ctx, model.SyncInput{
				UserID: "u1", DeviceID: fmt.Sprintf("d%d", i), EntityType: model.EntityPreferences,
				EntityID: "prefs", Payload: model.Payload{fmt.Sprintf("k%d", i): i},
			}, "")
			versions[i], failures[i] = res.Version, err
		}(i)
	}
	wg.Wait()

	for i, err := range failures {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for i, v := range versions {
		if v != int64(i+1) {
			t.Fatalf("versions not unique and dense: %v", versions)
		}
	}
	st, _ := h.coord.GetSyncStatus(ctx, "u1", model.EntityPreferences, "prefs")
	if st[0].Version != n {
		t.Fatalf("final version want %d, got %d", n, st[0].Version)
	}
	// merge is the preferences default: every writer's key survives
	if len(st[0].Payload) != n {
		t.Fatalf("merged payload lost keys: %v", st[0].Payload)
	}
}

func TestSyncEntity_CASExhaustionLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{CASRetries: 2, CASBaseDelay: time.Millisecond}, queue.Config{})
	if _, err := h.coord.SyncEntity(ctx, progress("d1", 0, 10), ""); err != nil {
		t.Fatal(err)
	}
	h.status.casErr = errs.ErrVersionConflict
	h.status.casCalls = 0

	_, err := h.coord.SyncEntity(ctx, progress("d1", 1, 20), "")
	if !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
	if h.status.casCalls != 3 {
		t.Fatalf("cas attempts want 3, got %d", h.status.casCalls)
	}
	h.status.casErr = nil
	st, _ := h.coord.GetSyncStatus(ctx, "u1", "", "")
	if st[0].Version != 1 || !reflect.DeepEqual(st[0].Payload, model.Payload{"pct": 10}) {
		t.Fatalf("state changed after failed sync: %+v", st[0])
	}
	if h.events.count() != 1 {
		t.Fatalf("failed sync must not emit, events=%d", h.events.count())
	}
}

func TestSyncEntity_StorageErrorPropagates(t *testing.T) {
	h := newHarness(t, SyncConfig{CASRetries: 5}, queue.Config{})
	boom := errors.New("connection refused")
	h.status.setGetErr(boom)

	_, err := h.coord.SyncEntity(context.Background(), progress("d1", 0, 10), "")
	if !errors.Is(err, boom) {
		t.Fatalf("want %v, got %v", boom, err)
	}
	if h.status.casCalls != 0 {
		t.Fatalf("storage read errors must not be retried or written")
	}
}

func TestSyncEntity_Validation(t *testing.T) {
	h := newHarness(t, SyncConfig{}, queue.Config{})
	bad := []model.SyncInput{
		{DeviceID: "d1", EntityType: model.EntityNotes, EntityID: "n"},
		{UserID: "u1", EntityType: model.EntityNotes, EntityID: "n"},
		{UserID: "u1", DeviceID: "d1", EntityID: "n"},
		{UserID: "u1", DeviceID: "d1", EntityType: model.EntityNotes},
		{UserID: "u1", DeviceID: "d1", EntityType: model.EntityNotes, EntityID: "n", Version: -1},
		{UserID: "u1", DeviceID: "d1", EntityType: model.EntityNotes, EntityID: "n", Operation: "upsert"},
	}
	for _, in := range bad {
		if _, err := h.coord.SyncEntity(context.Background(), in, ""); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("want validation error for %+v, got %v", in, err)
		}
	}
	if _, err := h.coord.GetSyncStatus(context.Background(), "", "", ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestSyncEntity_UnknownStrategyFallsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})
	if _, err := h.coord.SyncEntity(ctx, progress("d1", 0, 10), ""); err != nil {
		t.Fatal(err)
	}
	res, err := h.coord.SyncEntity(ctx, progress("d2", 0, 99), "newest-wins")
	if err != nil {
		t.Fatalf("unknown strategy must not fail: %v", err)
	}
	if res.Strategy != model.StrategyLastWriteWins || !res.ConflictResolved {
		t.Fatalf("unexpected %+v", res)
	}
}

func TestSyncEntity_DeleteIsTombstone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})
	if _, err := h.coord.SyncEntity(ctx, progress("d1", 0, 10), ""); err != nil {
		t.Fatal(err)
	}
	del := progress("d1", 1, 0)
	del.Operation = model.OpDelete
	res, err := h.coord.SyncEntity(ctx, del, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Deleted || res.Version != 2 || len(res.Payload) != 0 {
		t.Fatalf("unexpected tombstone %+v", res)
	}

	res, err = h.coord.SyncEntity(ctx, progress("d1", 2, 5), "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted || res.Version != 3 {
		t.Fatalf("update must clear tombstone: %+v", res)
	}
}

func TestSyncEntity_NotifierAndRegistryFailuresDoNotFailSync(t *testing.T) {
	h := newHarness(t, SyncConfig{}, queue.Config{})
	h.coord.events = panicEmitter{}

	// d9 was never registered, MarkSynced reports not found
	res, err := h.coord.SyncEntity(context.Background(), progress("d9", 0, 1), "")
	if err != nil || !res.Success {
		t.Fatalf("sync must succeed: %+v %v", res, err)
	}
}

func TestSyncEntity_ConflictHistoryBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{HistorySize: 2}, queue.Config{})
	for i := 0; i < 4; i++ {
		// version 0 always conflicts once the entity exists
		if _, err := h.coord.SyncEntity(ctx, progress("d1", 0, i), string(model.StrategyClientWins)); err != nil {
			t.Fatal(err)
		}
	}
	got := h.coord.ConflictHistory("u1", model.EntityProgress, "course-1")
	if len(got) != 2 {
		t.Fatalf("history want 2, got %d", len(got))
	}
	if !reflect.DeepEqual(got[1].ResolvedPayload, model.Payload{"pct": 3}) || got[1].WinningSource != model.SourceClient {
		t.Fatalf("unexpected newest record %+v", got[1])
	}
	if !reflect.DeepEqual(got[0].ServerPayload, model.Payload{"pct": 1}) {
		t.Fatalf("unexpected oldest record %+v", got[0])
	}
}

func TestQueue_DrainAppliesThroughSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})

	for i := 0; i < 3; i++ {
		_, err := h.coord.Enqueue(ctx, model.QueuedOperation{
			UserID: "u1", DeviceID: "d1", EntityType: model.EntityProgress, EntityID: "course-1",
			Version: int64(i), Payload: model.Payload{"pct": (i + 1) * 10},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	res, err := h.coord.ProcessQueueForUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 3 || res.Failed != 0 {
		t.Fatalf("unexpected drain %+v", res)
	}
	qs, _ := h.coord.QueueStatus(ctx)
	if qs.PendingCount != 0 || qs.IsProcessing {
		t.Fatalf("unexpected queue status %+v", qs)
	}
	st, _ := h.coord.GetSyncStatus(ctx, "u1", model.EntityProgress, "course-1")
	if st[0].Version != 3 || !reflect.DeepEqual(st[0].Payload, model.Payload{"pct": 30}) {
		t.Fatalf("unexpected final state %+v", st[0])
	}
}

func TestQueue_LaterQueuedEditWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})
	// server clock well ahead of the wall clock used for enqueue times
	h.advance(10 * 365 * 24 * time.Hour)

	for _, pct := range []int{10, 20} {
		if _, err := h.coord.Enqueue(ctx, model.QueuedOperation{
			UserID: "u1", DeviceID: "d1", EntityType: model.EntityProgress, EntityID: "course-1",
			Payload: model.Payload{"pct": pct},
		}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := h.coord.ProcessQueueForUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 2 {
		t.Fatalf("unexpected drain %+v", res)
	}
	st, _ := h.coord.GetSyncStatus(ctx, "u1", model.EntityProgress, "course-1")
	if len(st) != 1 || st[0].Version != 2 || !reflect.DeepEqual(st[0].Payload, model.Payload{"pct": 20}) {
		t.Fatalf("later queued edit lost: %+v", st)
	}
}

func TestQueue_FailedSyncKeepsItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{MaxRetries: 3})
	if _, err := h.coord.Enqueue(ctx, model.QueuedOperation{UserID: "u1", DeviceID: "d1", EntityType: model.EntityNotes, EntityID: "n1"}); err != nil {
		t.Fatal(err)
	}
	h.status.setGetErr(errors.New("db down"))

	res, err := h.coord.ProcessQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Processed != 0 {
		t.Fatalf("unexpected drain %+v", res)
	}
	items, _ := h.coord.PendingItems(ctx, "u1")
	if len(items) != 1 || items[0].RetryCount != 1 || items[0].LastError != "db down" {
		t.Fatalf("item not kept with bookkeeping: %+v", items)
	}
	if sts, _ := h.coord.GetSyncStatus(ctx, "u1", "", ""); len(sts) != 0 {
		t.Fatalf("failed drain wrote state: %+v", sts)
	}

	if err := h.coord.ClearQueue(ctx); err != nil {
		t.Fatal(err)
	}
	qs, _ := h.coord.QueueStatus(ctx)
	if qs.PendingCount != 0 {
		t.Fatalf("clear left %d items", qs.PendingCount)
	}
}

func TestOnDeviceOnline_DrainsUserQueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})
	h.reg.SetOnlineHook(h.coord.OnDeviceOnline)

	for i := 0; i < 2; i++ {
		if _, err := h.coord.Enqueue(ctx, model.QueuedOperation{
			UserID: "u1", DeviceID: "d1", EntityType: model.EntityNotes, EntityID: "n1",
			Version: int64(i), Payload: model.Payload{"body": i},
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.coord.Enqueue(ctx, model.QueuedOperation{UserID: "u2", DeviceID: "d7", EntityType: model.EntityNotes, EntityID: "n1"}); err != nil {
		t.Fatal(err)
	}

	h.register(t, "d1", "u1")
	h.coord.Wait()

	if items, _ := h.coord.PendingItems(ctx, "u1"); len(items) != 0 {
		t.Fatalf("u1 queue not drained: %d left", len(items))
	}
	if items, _ := h.coord.PendingItems(ctx, "u2"); len(items) != 1 {
		t.Fatalf("u2 queue touched")
	}
	d, _ := h.reg.GetDevice(ctx, "d1")
	if d.Status != model.DeviceOnline {
		t.Fatalf("device status want online, got %s", d.Status)
	}
	st, _ := h.coord.GetSyncStatus(ctx, "u1", model.EntityNotes, "n1")
	if len(st) != 1 || st[0].Version != 2 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestOnDeviceOnline_FailuresMarkDeviceError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})
	h.reg.SetOnlineHook(h.coord.OnDeviceOnline)
	if _, err := h.coord.Enqueue(ctx, model.QueuedOperation{UserID: "u1", DeviceID: "d1", EntityType: model.EntityNotes, EntityID: "n1"}); err != nil {
		t.Fatal(err)
	}
	h.status.setGetErr(errors.New("db down"))

	h.register(t, "d1", "u1")
	h.coord.Wait()

	d, _ := h.reg.GetDevice(ctx, "d1")
	if d.Status != model.DeviceError {
		t.Fatalf("device status want error, got %s", d.Status)
	}
}

func TestShutdown_StopsReconnectDrains(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})
	h.reg.SetOnlineHook(h.coord.OnDeviceOnline)
	if err := h.coord.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.coord.Enqueue(ctx, model.QueuedOperation{UserID: "u1", DeviceID: "d1", EntityType: model.EntityNotes, EntityID: "n1"}); err != nil {
		t.Fatal(err)
	}
	h.register(t, "d1", "u1")
	h.coord.Wait()
	if items, _ := h.coord.PendingItems(ctx, "u1"); len(items) != 1 {
		t.Fatalf("drain ran after shutdown")
	}
}

func waitStatus(t *testing.T, reg *DeviceRegistryImpl, id string, want model.DeviceStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		d, err := reg.GetDevice(context.Background(), id)
		if err == nil && d.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("device %s never reached %s", id, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOnDeviceOnline_WaitsForRunningDrain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})
	h.reg.SetOnlineHook(h.coord.OnDeviceOnline)
	for _, u := range []string{"u1", "u2"} {
		if _, err := h.coord.Enqueue(ctx, model.QueuedOperation{UserID: u, DeviceID: "d-" + u, EntityType: model.EntityNotes, EntityID: "n1"}); err != nil {
			t.Fatal(err)
		}
	}
	gate, entered := h.status.block()

	h.register(t, "d-u1", "u1")
	<-entered
	h.register(t, "d-u2", "u2")
	waitStatus(t, h.reg, "d-u2", model.DeviceSyncing)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	h.coord.Wait()

	for _, u := range []string{"u1", "u2"} {
		if items, _ := h.coord.PendingItems(ctx, u); len(items) != 0 {
			t.Fatalf("%s queue not drained: %d left", u, len(items))
		}
		d, _ := h.reg.GetDevice(ctx, "d-"+u)
		if d.Status != model.DeviceOnline {
			t.Fatalf("device d-%s status want online, got %s", u, d.Status)
		}
	}
}

func TestOnDeviceOnline_KeepsUnregisterDuringDrain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, SyncConfig{}, queue.Config{})
	h.reg.SetOnlineHook(h.coord.OnDeviceOnline)
	if _, err := h.coord.Enqueue(ctx, model.QueuedOperation{UserID: "u1", DeviceID: "d1", EntityType: model.EntityNotes, EntityID: "n1"}); err != nil {
		t.Fatal(err)
	}
	gate, entered := h.status.block()

	h.register(t, "d1", "u1")
	<-entered
	if err := h.reg.UnregisterDevice(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	close(gate)
	h.coord.Wait()

	d, _ := h.reg.GetDevice(ctx, "d1")
	if d.Status != model.DeviceOffline {
		t.Fatalf("device status want offline, got %s", d.Status)
	}
	if items, _ := h.coord.PendingItems(ctx, "u1"); len(items) != 0 {
		t.Fatalf("queue not drained: %d left", len(items))
	}
}
