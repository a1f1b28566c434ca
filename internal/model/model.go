// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// DeviceStatus is the registry's liveness hint for a device.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
	DeviceSyncing DeviceStatus = "syncing"
	DeviceError   DeviceStatus = "error"
)

// Device is a client installation registered by a user.
type Device struct {
	ID          string // client-generated, globally unique
	UserID      string // immutable after creation
	DisplayName string
	Kind        string // phone, tablet, desktop, web (free form)
	UserAgent   string
	Status      DeviceStatus
	LastSeenAt  time.Time
	LastSyncAt  *time.Time // nil until the first accepted sync
	CreatedAt   time.Time
}

// RegisterDevice is a registration/refresh request for a device.
type RegisterDevice struct {
	DeviceID  string
	UserID    string
	Name      string
	Kind      string
	UserAgent string
}

// EntityType names the kind of user-owned record subject to sync.
type EntityType string

const (
	EntityProgress    EntityType = "progress"
	EntityPreferences EntityType = "preferences"
	EntityCourseState EntityType = "course_state"
	EntityNotes       EntityType = "notes"
	EntityGeneric     EntityType = "generic"
)

// Payload is an opaque JSON object.
type Payload map[string]any

// EntityKey identifies one logical entity of one user.
type EntityKey struct {
	UserID     string
	EntityType EntityType
	EntityID   string
}

// SyncStatus is the server copy of an entity with its version metadata.
type SyncStatus struct {
	UserID                 string
	EntityType             EntityType
	EntityID               string
	Version                int64 // strictly increasing, 1 after the first sync
	LastModifiedAt         time.Time
	LastModifiedByDeviceID string
	Payload                Payload
	Deleted                bool // tombstone flag
}

// Key returns the uniqueness key of the status row.
func (s SyncStatus) Key() EntityKey {
	return EntityKey{UserID: s.UserID, EntityType: s.EntityType, EntityID: s.EntityID}
}

// Operation is the client intent carried by a sync or a queued item.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Strategy names a conflict resolution rule.
type Strategy string

const (
	StrategyLastWriteWins  Strategy = "last-write-wins"
	StrategyFirstWriteWins Strategy = "first-write-wins"
	StrategyServerWins     Strategy = "server-wins"
	StrategyClientWins     Strategy = "client-wins"
	StrategyMerge          Strategy = "merge"
)

// WinningSource tells which side's payload was kept.
type WinningSource string

const (
	SourceServer WinningSource = "server"
	SourceClient WinningSource = "client"
	SourceMerged WinningSource = "merged"
)

// SyncInput is a client submission for one entity.
type SyncInput struct {
	UserID     string
	DeviceID   string
	EntityType EntityType
	EntityID   string
	Version    int64     // client's view of the server version
	UpdatedAt  time.Time // client edit time; zero means "now"
	Payload    Payload
	Operation  Operation // empty means update
}

// Key returns the entity addressed by the input.
func (in SyncInput) Key() EntityKey {
	return EntityKey{UserID: in.UserID, EntityType: in.EntityType, EntityID: in.EntityID}
}

// SyncResult reports the accepted state after a sync.
type SyncResult struct {
	Success          bool
	Version          int64
	LastModifiedAt   time.Time
	Payload          Payload
	Deleted          bool
	ConflictResolved bool
	Strategy         Strategy
	WinningSource    WinningSource
	Message          string
}

// ConflictRecord describes one resolved conflict.
type ConflictRecord struct {
	EntityType      EntityType
	EntityID        string
	DeviceID        string
	ServerPayload   Payload
	ClientPayload   Payload
	Strategy        Strategy
	ResolvedPayload Payload
	WinningSource   WinningSource
	DetectedAt      time.Time
}

// QueuedOperation is a pending client write held by the offline queue.
type QueuedOperation struct {
	ID         uuid.UUID // UUIDv7, time ordered
	UserID     string
	DeviceID   string
	EntityType EntityType
	EntityID   string
	Operation  Operation
	Payload    Payload
	Version    int64
	QueuedAt   time.Time
	RetryCount int
	LastError  string
}

// OrderKey groups operations that must apply in enqueue order.
func (op QueuedOperation) OrderKey() string {
	return op.UserID + "\x00" + op.DeviceID + "\x00" + string(op.EntityType) + "\x00" + op.EntityID
}

// DrainResult summarizes one pass over the queue.
type DrainResult struct {
	Processed int // handler succeeded, item removed
	Failed    int // handler failed (includes dropped)
	Dropped   int // removed after exhausting retries
}

// QueueStatus is a point-in-time view of the offline queue.
type QueueStatus struct {
	PendingCount int
	IsProcessing bool
}

// EventSyncComplete is the event name emitted after every accepted sync.
const EventSyncComplete = "sync-complete"

// SyncEvent is pushed to the user's connected clients.
type SyncEvent struct {
	Name             string
	UserID           string
	DeviceID         string
	EntityType       EntityType
	EntityID         string
	Version          int64
	ConflictResolved bool
	Strategy         Strategy
	At               time.Time
}
