// Package models provides data model definitions for the Plexa sync backend.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// EntityType identifies which kind of record an envelope carries.
type EntityType string

const (
	EntityTypeNote   EntityType = "note"
	EntityTypePerson EntityType = "person"
	EntityTypeTodo   EntityType = "todo"
)

// EntityTypes lists all syncable entity types.
var EntityTypes = []EntityType{EntityTypeNote, EntityTypePerson, EntityTypeTodo}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeNote, EntityTypePerson, EntityTypeTodo:
		return true
	}
	return false
}

// SyncStatus is the synchronization state of a locally cached entity.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
)

// Valid reports whether s is a known sync status.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusSynced, StatusPending, StatusConflict:
		return true
	}
	return false
}

// legalTransitions encodes the sync status state machine. Every local
// mutation marks an entity pending; only a server acknowledgment moves it
// to synced, and only a version-mismatch rejection moves it to conflict.
var legalTransitions = map[SyncStatus][]SyncStatus{
	StatusSynced:   {StatusPending},
	StatusPending:  {StatusPending, StatusSynced, StatusConflict},
	StatusConflict: {StatusPending, StatusSynced},
}

// Transition validates a sync status change. It returns an error for any
// transition the state machine does not allow, including unknown states.
func Transition(from, to SyncStatus) error {
	if !from.Valid() {
		return fmt.Errorf("unknown sync status %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown sync status %q", to)
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("illegal sync status transition %s -> %s", from, to)
}

// EntityRecord is the syncable envelope stored in the local entity cache.
// Payload holds the entity-specific fields (Note, Person or Todo) as JSON.
type EntityRecord struct {
	ID         UUID            `db:"id" json:"id"`
	Type       EntityType      `db:"entity_type" json:"entity_type"`
	Version    int64           `db:"version" json:"version"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"` // unix millis, server-assigned
	SyncStatus SyncStatus      `db:"sync_status" json:"sync_status"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Deleted    bool            `db:"is_deleted" json:"is_deleted"`
}

// TableName returns the table name for EntityRecord.
func (EntityRecord) TableName() string {
	return "entities"
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (e *EntityRecord) UpdatedAtTime() time.Time {
	return time.UnixMilli(e.UpdatedAt)
}

// Clone returns a deep copy of the record. Payload bytes are copied so the
// clone can outlive mutations of the original.
func (e *EntityRecord) Clone() *EntityRecord {
	c := *e
	if e.Payload != nil {
		c.Payload = make(json.RawMessage, len(e.Payload))
		copy(c.Payload, e.Payload)
	}
	return &c
}
