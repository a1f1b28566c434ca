package convert

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func TestFromProtoSyncInput_VersionRequired(t *testing.T) {
	t.Parallel()

	_, _, err := FromProtoSyncInput(mustStruct(t, map[string]any{"entityType": "progress", "entityId": "c1"}), "u1")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("missing version: want validation error, got %v", err)
	}

	_, _, err = FromProtoSyncInput(mustStruct(t, map[string]any{"version": 1.5}), "u1")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("fractional version: want validation error, got %v", err)
	}

	for _, v := range []float64{1e19, -1e19, 1<<53 + 2} {
		_, _, err = FromProtoSyncInput(mustStruct(t, map[string]any{"version": v}), "u1")
		if !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("version %g: want validation error, got %v", v, err)
		}
	}
	in, _, err := FromProtoSyncInput(mustStruct(t, map[string]any{"entityType": "progress", "entityId": "c1", "version": float64(1 << 53)}), "u1")
	if err != nil || in.Version != 1<<53 {
		t.Fatalf("largest exact version: %v %d", err, in.Version)
	}

	_, _, err = FromProtoSyncInput(mustStruct(t, map[string]any{"version": 1, "payload": "text"}), "u1")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("non-object payload: want validation error, got %v", err)
	}

	_, _, err = FromProtoSyncInput(mustStruct(t, map[string]any{"version": 0, "updatedAt": "yesterday"}), "u1")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("bad updatedAt: want validation error, got %v", err)
	}
}

func TestSyncInput_Roundtrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	in := model.SyncInput{
		DeviceID: "d1", EntityType: model.EntityNotes, EntityID: "n1", Version: 3,
		UpdatedAt: at, Operation: model.OpDelete, Payload: model.Payload{"body": "hi", "n": 2},
	}
	s, err := ToProtoSyncInput(in, "merge")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, strategy, err := FromProtoSyncInput(s, "u9")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strategy != "merge" || got.UserID != "u9" || got.Version != 3 || !got.UpdatedAt.Equal(at) {
		t.Fatalf("mismatch: %+v %q", got, strategy)
	}
	if got.Operation != model.OpDelete || got.EntityType != model.EntityNotes || got.DeviceID != "d1" {
		t.Fatalf("mismatch: %+v", got)
	}
	if !reflect.DeepEqual(got.Payload, model.Payload{"body": "hi", "n": 2.0}) {
		t.Fatalf("payload mismatch: %v", got.Payload)
	}
}

func TestDevice_Roundtrip(t *testing.T) {
	t.Parallel()

	seen := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	d := model.Device{ID: "d1", UserID: "u1", DisplayName: "Phone", Kind: "ios", Status: model.DeviceSyncing, LastSeenAt: seen, CreatedAt: seen}
	s, err := ToProtoDevice(d)
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromProtoDevice(s)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSyncAt != nil {
		t.Fatalf("lastSyncAt must stay nil")
	}
	if !reflect.DeepEqual(got, d) {
		t.Fatalf("mismatch:\n got %+v\nwant %+v", got, d)
	}

	synced := seen.Add(time.Hour)
	d.LastSyncAt = &synced
	list, err := ToProtoDevices([]model.Device{d, d})
	if err != nil {
		t.Fatal(err)
	}
	gotList, err := FromProtoDevices(list)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotList) != 2 || gotList[1].LastSyncAt == nil || !gotList[1].LastSyncAt.Equal(synced) {
		t.Fatalf("list mismatch: %+v", gotList)
	}
}

func TestFromProtoRegisterDevice_OwnerFromCaller(t *testing.T) {
	t.Parallel()

	s := mustStruct(t, map[string]any{"deviceId": "d1", "userId": "someone-else", "name": "Tab"})
	got := FromProtoRegisterDevice(s, "u1")
	if got.UserID != "u1" || got.DeviceID != "d1" || got.Name != "Tab" {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestSyncResult_Roundtrip(t *testing.T) {
	t.Parallel()

	r := model.SyncResult{
		Success: true, Version: 3, LastModifiedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload: model.Payload{"pct": 40}, ConflictResolved: true,
		Strategy: model.StrategyLastWriteWins, WinningSource: model.SourceServer, Message: "kept server",
	}
	s, err := ToProtoSyncResult(r)
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromProtoSyncResult(s)
	if err != nil {
		t.Fatal(err)
	}
	r.Payload = model.Payload{"pct": 40.0}
	if !reflect.DeepEqual(got, r) {
		t.Fatalf("mismatch:\n got %+v\nwant %+v", got, r)
	}
}

func TestSyncStatuses_Roundtrip(t *testing.T) {
	t.Parallel()

	sts := []model.SyncStatus{
		{EntityType: model.EntityProgress, EntityID: "c1", Version: 2, LastModifiedAt: time.Unix(100, 0).UTC(), LastModifiedByDeviceID: "d1", Payload: model.Payload{}},
		{EntityType: model.EntityNotes, EntityID: "n1", Version: 7, LastModifiedAt: time.Unix(200, 0).UTC(), LastModifiedByDeviceID: "d2", Payload: model.Payload{}, Deleted: true},
	}
	s, err := ToProtoSyncStatuses(sts)
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromProtoSyncStatuses(s)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, sts) {
		t.Fatalf("mismatch:\n got %+v\nwant %+v", got, sts)
	}

	f := FromProtoStatusFilter(mustStruct(t, map[string]any{"entityType": "notes"}))
	if f.EntityType != model.EntityNotes || f.EntityID != "" {
		t.Fatalf("filter mismatch %+v", f)
	}
}

func TestQueuedOperations_Roundtrip(t *testing.T) {
	t.Parallel()

	op := model.QueuedOperation{
		ID: uuid.Must(uuid.NewV7()), UserID: "u1", DeviceID: "d1", EntityType: model.EntityPreferences,
		EntityID: "p", Operation: model.OpUpdate, Payload: model.Payload{"theme": "dark"}, Version: 4,
		QueuedAt: time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC), RetryCount: 2, LastError: "timeout",
	}
	s, err := ToProtoQueuedOperations([]model.QueuedOperation{op})
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromProtoQueuedOperations(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0], op) {
		t.Fatalf("mismatch:\n got %+v\nwant %+v", got, op)
	}

	one, err := ToProtoQueuedOperation(op)
	if err != nil {
		t.Fatal(err)
	}
	back, err := FromProtoQueuedResult(one)
	if err != nil || back.ID != op.ID {
		t.Fatalf("single mismatch: %+v %v", back, err)
	}

	req, err := FromProtoQueuedOperation(mustStruct(t, map[string]any{"deviceId": "d1", "entityType": "notes", "entityId": "n"}), "u2")
	if err != nil || req.UserID != "u2" || req.Version != 0 || req.Payload != nil {
		t.Fatalf("request decode: %+v %v", req, err)
	}
}

func TestDrainAndQueueStatus(t *testing.T) {
	t.Parallel()

	s, err := ToProtoDrainResult(model.DrainResult{Processed: 3, Failed: 1, Dropped: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := FromProtoDrainResult(s); got != (model.DrainResult{Processed: 3, Failed: 1, Dropped: 1}) {
		t.Fatalf("drain mismatch %+v", got)
	}
	s, err = ToProtoQueueStatus(model.QueueStatus{PendingCount: 5, IsProcessing: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := FromProtoQueueStatus(s); got != (model.QueueStatus{PendingCount: 5, IsProcessing: true}) {
		t.Fatalf("status mismatch %+v", got)
	}
}

func TestConflictRecordsAndEvent(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	recs := []model.ConflictRecord{{
		EntityType: model.EntityNotes, EntityID: "n1", DeviceID: "d2",
		ServerPayload: model.Payload{"a": 1.0}, ClientPayload: model.Payload{"b": 2.0},
		ResolvedPayload: model.Payload{"a": 1.0, "b": 2.0}, Strategy: model.StrategyMerge,
		WinningSource: model.SourceMerged, DetectedAt: at,
	}}
	s, err := ToProtoConflictRecords(recs)
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromProtoConflictRecords(s)
	if err != nil || !reflect.DeepEqual(got, recs) {
		t.Fatalf("records mismatch: %+v %v", got, err)
	}

	ev := model.SyncEvent{Name: model.EventSyncComplete, UserID: "u1", DeviceID: "d1", EntityType: model.EntityNotes,
		EntityID: "n1", Version: 9, ConflictResolved: true, Strategy: model.StrategyMerge, At: at}
	es, err := ToProtoEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	gotEv, err := FromProtoEvent(es)
	if err != nil || gotEv != ev {
		t.Fatalf("event mismatch: %+v %v", gotEv, err)
	}
}
