package models

import "time"

// Resolution is the caller's choice for settling a conflict.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerged Resolution = "merged"
)

// Valid reports whether r is a known resolution choice.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionRemote, ResolutionMerged:
		return true
	}
	return false
}

// ConflictRecord captures a version-mismatch rejection: both the local
// snapshot that was pushed and the remote snapshot the server returned.
// At most one unresolved record exists per entity id; a second conflicting
// push refreshes the remote side of the existing record.
type ConflictRecord struct {
	ID            UUID          `db:"id" json:"id"`
	EntityID      UUID          `db:"entity_id" json:"entity_id"`
	EntityType    EntityType    `db:"entity_type" json:"entity_type"`
	LocalVersion  *EntityRecord `json:"local_version"`
	RemoteVersion *EntityRecord `json:"remote_version"`
	DetectedAt    int64         `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictRecord.
func (ConflictRecord) TableName() string {
	return "conflicts"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictRecord) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
