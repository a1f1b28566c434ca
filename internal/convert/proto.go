// Package convert maps domain types to and from the JSON-object shaped
// messages (structpb.Struct) carried by the sync gRPC service.
package convert

import (
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AlAfiz/starked-education/internal/errs"
	"github.com/AlAfiz/starked-education/internal/model"
)

// --- helpers ---

func ts(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// plain rewrites v into the value shapes structpb.NewValue accepts.
func plain(v any) any {
	switch t := v.(type) {
	case model.Payload:
		return plainMap(t)
	case map[string]any:
		return plainMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainMap(e)
		}
		return out
	case time.Time:
		return ts(t)
	default:
		return v
	}
}

func plainMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(plainMap(m))
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

func payloadValue(p model.Payload) any {
	if p == nil {
		return map[string]any{}
	}
	return map[string]any(p)
}

func str(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return s
}

func boolean(m map[string]any, k string) bool {
	b, _ := m[k].(bool)
	return b
}

// maxExactInt is the largest magnitude a float64 holds without losing integers.
const maxExactInt = 1 << 53

func integer(m map[string]any, k string) (int64, bool, error) {
	v, ok := m[k]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("%w: %s must be an integer", errs.ErrValidation, k)
	}
	if math.Abs(f) > maxExactInt {
		return 0, true, fmt.Errorf("%w: %s out of range", errs.ErrValidation, k)
	}
	return int64(f), true, nil
}

func count(m map[string]any, k string) int {
	n, _, _ := integer(m, k)
	return int(n)
}

func timeField(m map[string]any, k string) (time.Time, error) {
	s := str(m, k)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errs.ErrValidation, k, err)
	}
	return t, nil
}

func payloadField(m map[string]any, k string) (model.Payload, error) {
	v, ok := m[k]
	if !ok || v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object", errs.ErrValidation, k)
	}
	return model.Payload(obj), nil
}

func list(m map[string]any, k string) []map[string]any {
	raw, _ := m[k].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		if obj, ok := e.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Items wraps a list into {"items": [...]}.
func Items(items []map[string]any) (*structpb.Struct, error) {
	return toStruct(map[string]any{"items": items})
}

// Empty is the response of operations without a result.
func Empty() *structpb.Struct { return &structpb.Struct{Fields: map[string]*structpb.Value{}} }

// --- Device ---

// DeviceMap renders a device.
func DeviceMap(d model.Device) map[string]any {
	m := map[string]any{
		"deviceId":    d.ID,
		"userId":      d.UserID,
		"displayName": d.DisplayName,
		"kind":        d.Kind,
		"userAgent":   d.UserAgent,
		"status":      string(d.Status),
		"lastSeenAt":  ts(d.LastSeenAt),
		"createdAt":   ts(d.CreatedAt),
		"lastSyncAt":  nil,
	}
	if d.LastSyncAt != nil {
		m["lastSyncAt"] = ts(*d.LastSyncAt)
	}
	return m
}

// ToProtoDevice encodes a device message.
func ToProtoDevice(d model.Device) (*structpb.Struct, error) { return toStruct(DeviceMap(d)) }

// ToProtoDevices encodes a device list.
func ToProtoDevices(ds []model.Device) (*structpb.Struct, error) {
	items := make([]map[string]any, 0, len(ds))
	for _, d := range ds {
		items = append(items, DeviceMap(d))
	}
	return Items(items)
}

// FromProtoDevice decodes a device message.
func FromProtoDevice(s *structpb.Struct) (model.Device, error) {
	return deviceFromMap(s.AsMap())
}

// FromProtoDevices decodes a device list.
func FromProtoDevices(s *structpb.Struct) ([]model.Device, error) {
	out := make([]model.Device, 0)
	for _, m := range list(s.AsMap(), "items") {
		d, err := deviceFromMap(m)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func deviceFromMap(m map[string]any) (model.Device, error) {
	d := model.Device{
		ID:          str(m, "deviceId"),
		UserID:      str(m, "userId"),
		DisplayName: str(m, "displayName"),
		Kind:        str(m, "kind"),
		UserAgent:   str(m, "userAgent"),
		Status:      model.DeviceStatus(str(m, "status")),
	}
	var err error
	if d.LastSeenAt, err = timeField(m, "lastSeenAt"); err != nil {
		return model.Device{}, err
	}
	if d.CreatedAt, err = timeField(m, "createdAt"); err != nil {
		return model.Device{}, err
	}
	last, err := timeField(m, "lastSyncAt")
	if err != nil {
		return model.Device{}, err
	}
	if !last.IsZero() {
		d.LastSyncAt = &last
	}
	return d, nil
}

// FromProtoRegisterDevice decodes a registration request. The owner comes
// from the authenticated caller, not from the message.
func FromProtoRegisterDevice(s *structpb.Struct, userID string) model.RegisterDevice {
	m := s.AsMap()
	return model.RegisterDevice{
		DeviceID:  str(m, "deviceId"),
		UserID:    userID,
		Name:      str(m, "name"),
		Kind:      str(m, "kind"),
		UserAgent: str(m, "userAgent"),
	}
}

// ToProtoRegisterDevice encodes a registration request.
func ToProtoRegisterDevice(in model.RegisterDevice) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"deviceId":  in.DeviceID,
		"name":      in.Name,
		"kind":      in.Kind,
		"userAgent": in.UserAgent,
	})
}

// --- Sync ---

// FromProtoSyncInput decodes a sync request and its optional strategy.
// A missing version is a validation error: the client must always state
// which server version it last saw.
func FromProtoSyncInput(s *structpb.Struct, userID string) (model.SyncInput, string, error) {
	m := s.AsMap()
	v, ok, err := integer(m, "version")
	if err != nil {
		return model.SyncInput{}, "", err
	}
	if !ok {
		return model.SyncInput{}, "", fmt.Errorf("%w: version undefined", errs.ErrValidation)
	}
	in := model.SyncInput{
		UserID:     userID,
		DeviceID:   str(m, "deviceId"),
		EntityType: model.EntityType(str(m, "entityType")),
		EntityID:   str(m, "entityId"),
		Version:    v,
		Operation:  model.Operation(str(m, "operation")),
	}
	if in.UpdatedAt, err = timeField(m, "updatedAt"); err != nil {
		return model.SyncInput{}, "", err
	}
	if in.Payload, err = payloadField(m, "payload"); err != nil {
		return model.SyncInput{}, "", err
	}
	return in, str(m, "strategy"), nil
}

// ToProtoSyncInput encodes a sync request.
func ToProtoSyncInput(in model.SyncInput, strategy string) (*structpb.Struct, error) {
	m := map[string]any{
		"deviceId":   in.DeviceID,
		"entityType": string(in.EntityType),
		"entityId":   in.EntityID,
		"version":    in.Version,
		"payload":    payloadValue(in.Payload),
	}
	if !in.UpdatedAt.IsZero() {
		m["updatedAt"] = ts(in.UpdatedAt)
	}
	if in.Operation != "" {
		m["operation"] = string(in.Operation)
	}
	if strategy != "" {
		m["strategy"] = strategy
	}
	return toStruct(m)
}

// ToProtoSyncResult encodes a sync result.
func ToProtoSyncResult(r model.SyncResult) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"success":          r.Success,
		"version":          r.Version,
		"lastModifiedAt":   ts(r.LastModifiedAt),
		"payload":          payloadValue(r.Payload),
		"deleted":          r.Deleted,
		"conflictResolved": r.ConflictResolved,
		"strategy":         string(r.Strategy),
		"winningSource":    string(r.WinningSource),
		"message":          r.Message,
	})
}

// FromProtoSyncResult decodes a sync result.
func FromProtoSyncResult(s *structpb.Struct) (model.SyncResult, error) {
	m := s.AsMap()
	v, _, err := integer(m, "version")
	if err != nil {
		return model.SyncResult{}, err
	}
	r := model.SyncResult{
		Success:          boolean(m, "success"),
		Version:          v,
		Deleted:          boolean(m, "deleted"),
		ConflictResolved: boolean(m, "conflictResolved"),
		Strategy:         model.Strategy(str(m, "strategy")),
		WinningSource:    model.WinningSource(str(m, "winningSource")),
		Message:          str(m, "message"),
	}
	if r.LastModifiedAt, err = timeField(m, "lastModifiedAt"); err != nil {
		return model.SyncResult{}, err
	}
	if r.Payload, err = payloadField(m, "payload"); err != nil {
		return model.SyncResult{}, err
	}
	return r, nil
}

// StatusFilter is the optional filter of a status listing.
type StatusFilter struct {
	EntityType model.EntityType
	EntityID   string
}

// FromProtoStatusFilter decodes {entityType?, entityId?}.
func FromProtoStatusFilter(s *structpb.Struct) StatusFilter {
	m := s.AsMap()
	return StatusFilter{EntityType: model.EntityType(str(m, "entityType")), EntityID: str(m, "entityId")}
}

// ToProtoStatusFilter encodes a status filter.
func ToProtoStatusFilter(f StatusFilter) (*structpb.Struct, error) {
	m := map[string]any{}
	if f.EntityType != "" {
		m["entityType"] = string(f.EntityType)
	}
	if f.EntityID != "" {
		m["entityId"] = f.EntityID
	}
	return toStruct(m)
}

func statusMap(st model.SyncStatus) map[string]any {
	return map[string]any{
		"entityType":             string(st.EntityType),
		"entityId":               st.EntityID,
		"version":                st.Version,
		"lastModifiedAt":         ts(st.LastModifiedAt),
		"lastModifiedByDeviceId": st.LastModifiedByDeviceID,
		"payload":                payloadValue(st.Payload),
		"deleted":                st.Deleted,
	}
}

// ToProtoSyncStatuses encodes a status listing.
func ToProtoSyncStatuses(sts []model.SyncStatus) (*structpb.Struct, error) {
	items := make([]map[string]any, 0, len(sts))
	for _, st := range sts {
		items = append(items, statusMap(st))
	}
	return Items(items)
}

// FromProtoSyncStatuses decodes a status listing.
func FromProtoSyncStatuses(s *structpb.Struct) ([]model.SyncStatus, error) {
	out := make([]model.SyncStatus, 0)
	for _, m := range list(s.AsMap(), "items") {
		v, _, err := integer(m, "version")
		if err != nil {
			return nil, err
		}
		st := model.SyncStatus{
			EntityType:             model.EntityType(str(m, "entityType")),
			EntityID:               str(m, "entityId"),
			Version:                v,
			LastModifiedByDeviceID: str(m, "lastModifiedByDeviceId"),
			Deleted:                boolean(m, "deleted"),
		}
		if st.LastModifiedAt, err = timeField(m, "lastModifiedAt"); err != nil {
			return nil, err
		}
		if st.Payload, err = payloadField(m, "payload"); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// --- Queue ---

// FromProtoQueuedOperation decodes an enqueue request.
func FromProtoQueuedOperation(s *structpb.Struct, userID string) (model.QueuedOperation, error) {
	return queuedFields(s.AsMap(), userID)
}

func queuedFields(m map[string]any, userID string) (model.QueuedOperation, error) {
	v, _, err := integer(m, "version")
	if err != nil {
		return model.QueuedOperation{}, err
	}
	op := model.QueuedOperation{
		UserID:     userID,
		DeviceID:   str(m, "deviceId"),
		EntityType: model.EntityType(str(m, "entityType")),
		EntityID:   str(m, "entityId"),
		Operation:  model.Operation(str(m, "operation")),
		Version:    v,
	}
	if op.Payload, err = payloadField(m, "payload"); err != nil {
		return model.QueuedOperation{}, err
	}
	return op, nil
}

// QueuedOperationMap renders a queued operation.
func QueuedOperationMap(op model.QueuedOperation) map[string]any {
	m := map[string]any{
		"id":         op.ID.String(),
		"userId":     op.UserID,
		"deviceId":   op.DeviceID,
		"entityType": string(op.EntityType),
		"entityId":   op.EntityID,
		"operation":  string(op.Operation),
		"version":    op.Version,
		"queuedAt":   ts(op.QueuedAt),
		"retryCount": op.RetryCount,
		"lastError":  op.LastError,
		"payload":    nil,
	}
	if op.Payload != nil {
		m["payload"] = map[string]any(op.Payload)
	}
	return m
}

// ToProtoQueuedOperation encodes a queued operation.
func ToProtoQueuedOperation(op model.QueuedOperation) (*structpb.Struct, error) {
	return toStruct(QueuedOperationMap(op))
}

// ToProtoQueuedOperations encodes a pending item listing.
func ToProtoQueuedOperations(ops []model.QueuedOperation) (*structpb.Struct, error) {
	items := make([]map[string]any, 0, len(ops))
	for _, op := range ops {
		items = append(items, QueuedOperationMap(op))
	}
	return Items(items)
}

// FromProtoQueuedOperations decodes a pending item listing.
func FromProtoQueuedOperations(s *structpb.Struct) ([]model.QueuedOperation, error) {
	out := make([]model.QueuedOperation, 0)
	for _, m := range list(s.AsMap(), "items") {
		op, err := queuedFromMap(m)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

// FromProtoQueuedResult decodes a single queued operation as returned by Enqueue.
func FromProtoQueuedResult(s *structpb.Struct) (model.QueuedOperation, error) {
	return queuedFromMap(s.AsMap())
}

func queuedFromMap(m map[string]any) (model.QueuedOperation, error) {
	op, err := queuedFields(m, str(m, "userId"))
	if err != nil {
		return model.QueuedOperation{}, err
	}
	if id := str(m, "id"); id != "" {
		if op.ID, err = uuid.FromString(id); err != nil {
			return model.QueuedOperation{}, fmt.Errorf("%w: bad id: %v", errs.ErrValidation, err)
		}
	}
	if op.QueuedAt, err = timeField(m, "queuedAt"); err != nil {
		return model.QueuedOperation{}, err
	}
	op.RetryCount = count(m, "retryCount")
	op.LastError = str(m, "lastError")
	return op, nil
}

// ToProtoDrainResult encodes {processed, failed, dropped}.
func ToProtoDrainResult(r model.DrainResult) (*structpb.Struct, error) {
	return toStruct(map[string]any{"processed": r.Processed, "failed": r.Failed, "dropped": r.Dropped})
}

// FromProtoDrainResult decodes a drain result.
func FromProtoDrainResult(s *structpb.Struct) model.DrainResult {
	m := s.AsMap()
	return model.DrainResult{Processed: count(m, "processed"), Failed: count(m, "failed"), Dropped: count(m, "dropped")}
}

// ToProtoQueueStatus encodes {pendingCount, isProcessing}.
func ToProtoQueueStatus(st model.QueueStatus) (*structpb.Struct, error) {
	return toStruct(map[string]any{"pendingCount": st.PendingCount, "isProcessing": st.IsProcessing})
}

// FromProtoQueueStatus decodes a queue status.
func FromProtoQueueStatus(s *structpb.Struct) model.QueueStatus {
	m := s.AsMap()
	return model.QueueStatus{PendingCount: count(m, "pendingCount"), IsProcessing: boolean(m, "isProcessing")}
}

// --- Conflicts & events ---

// ToProtoConflictRecords encodes a conflict history listing.
func ToProtoConflictRecords(recs []model.ConflictRecord) (*structpb.Struct, error) {
	items := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		items = append(items, map[string]any{
			"entityType":      string(r.EntityType),
			"entityId":        r.EntityID,
			"deviceId":        r.DeviceID,
			"serverPayload":   payloadValue(r.ServerPayload),
			"clientPayload":   payloadValue(r.ClientPayload),
			"strategy":        string(r.Strategy),
			"resolvedPayload": payloadValue(r.ResolvedPayload),
			"winningSource":   string(r.WinningSource),
			"detectedAt":      ts(r.DetectedAt),
		})
	}
	return Items(items)
}

// FromProtoConflictRecords decodes a conflict history listing.
func FromProtoConflictRecords(s *structpb.Struct) ([]model.ConflictRecord, error) {
	out := make([]model.ConflictRecord, 0)
	for _, m := range list(s.AsMap(), "items") {
		r := model.ConflictRecord{
			EntityType:    model.EntityType(str(m, "entityType")),
			EntityID:      str(m, "entityId"),
			DeviceID:      str(m, "deviceId"),
			Strategy:      model.Strategy(str(m, "strategy")),
			WinningSource: model.WinningSource(str(m, "winningSource")),
		}
		var err error
		if r.ServerPayload, err = payloadField(m, "serverPayload"); err != nil {
			return nil, err
		}
		if r.ClientPayload, err = payloadField(m, "clientPayload"); err != nil {
			return nil, err
		}
		if r.ResolvedPayload, err = payloadField(m, "resolvedPayload"); err != nil {
			return nil, err
		}
		if r.DetectedAt, err = timeField(m, "detectedAt"); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ToProtoEvent encodes a pushed sync event.
func ToProtoEvent(ev model.SyncEvent) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"event":            ev.Name,
		"userId":           ev.UserID,
		"deviceId":         ev.DeviceID,
		"entityType":       string(ev.EntityType),
		"entityId":         ev.EntityID,
		"version":          ev.Version,
		"conflictResolved": ev.ConflictResolved,
		"strategy":         string(ev.Strategy),
		"at":               ts(ev.At),
	})
}

// FromProtoEvent decodes a pushed sync event.
func FromProtoEvent(s *structpb.Struct) (model.SyncEvent, error) {
	m := s.AsMap()
	v, _, err := integer(m, "version")
	if err != nil {
		return model.SyncEvent{}, err
	}
	ev := model.SyncEvent{
		Name:             str(m, "event"),
		UserID:           str(m, "userId"),
		DeviceID:         str(m, "deviceId"),
		EntityType:       model.EntityType(str(m, "entityType")),
		EntityID:         str(m, "entityId"),
		Version:          v,
		ConflictResolved: boolean(m, "conflictResolved"),
		Strategy:         model.Strategy(str(m, "strategy")),
	}
	if ev.At, err = timeField(m, "at"); err != nil {
		return model.SyncEvent{}, err
	}
	return ev, nil
}
