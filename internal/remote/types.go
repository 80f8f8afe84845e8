// Package remote implements the HTTP client for the Plexa entity service
// and defines the wire types shared with the server.
package remote

import (
	"encoding/json"

	"github.com/plexa-app/plexa/internal/models"
)

// Entity is the server-side representation of a syncable record.
type Entity struct {
	ID        models.UUID       `json:"id"`
	Type      models.EntityType `json:"entity_type"`
	Version   int64             `json:"version"`
	UpdatedAt int64             `json:"updated_at"` // unix millis, server clock
	Payload   json.RawMessage   `json:"payload"`
	Deleted   bool              `json:"is_deleted"`
}

// Record converts a wire entity into a local cache record with the given
// sync status.
func (e *Entity) Record(status models.SyncStatus) *models.EntityRecord {
	return &models.EntityRecord{
		ID:         e.ID,
		Type:       e.Type,
		Version:    e.Version,
		UpdatedAt:  e.UpdatedAt,
		SyncStatus: status,
		Payload:    e.Payload,
		Deleted:    e.Deleted,
	}
}

// CreateRequest creates a new entity. ID may be client-generated; the
// server assigns one when absent.
type CreateRequest struct {
	ID      models.UUID     `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload" validate:"required"`
	Deleted bool            `json:"is_deleted"`
}

// PushRequest submits a local mutation against a believed base version.
type PushRequest struct {
	ID          models.UUID     `json:"id" validate:"required"`
	BaseVersion int64           `json:"base_version" validate:"gte=0"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	Deleted     bool            `json:"is_deleted"`
}

// PushAccepted is the 200 body of an accepted push.
type PushAccepted struct {
	Version   int64 `json:"version"`
	UpdatedAt int64 `json:"updated_at"`
}

// PushConflict is the 409 body of a version-mismatch rejection. It carries
// the server's current copy so the client can surface both sides.
type PushConflict struct {
	RemoteVersion   int64           `json:"remote_version"`
	RemoteUpdatedAt int64           `json:"remote_updated_at"`
	RemotePayload   json.RawMessage `json:"remote_payload"`
	RemoteDeleted   bool            `json:"remote_deleted"`
}

// PushOutcome classifies a push result.
type PushOutcome string

const (
	OutcomeAccepted PushOutcome = "accepted"
	OutcomeConflict PushOutcome = "conflict"
	OutcomeRejected PushOutcome = "rejected"
)

// PushResult is the typed result of PushEntity. Exactly one of Accepted
// and Conflict is set for their outcomes; RejectReason is set for
// validation rejections.
type PushResult struct {
	Outcome      PushOutcome
	Accepted     *PushAccepted
	Conflict     *PushConflict
	RejectReason string
}

// PullResponse is the body of a since-pull.
type PullResponse struct {
	Entities   []*Entity `json:"entities"`
	ServerTime int64     `json:"server_time"`
}

// TodoSyncRequest batches todo pushes through POST /todos/sync.
type TodoSyncRequest struct {
	Items []PushRequest `json:"items" validate:"required,dive"`
}

// TodoSyncItemResult is the per-item outcome of a batch todo sync.
type TodoSyncItemResult struct {
	ID       models.UUID   `json:"id"`
	Outcome  PushOutcome   `json:"outcome"`
	Accepted *PushAccepted `json:"accepted,omitempty"`
	Conflict *PushConflict `json:"conflict,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// TodoSyncResponse is the body of a batch todo sync.
type TodoSyncResponse struct {
	Results    []TodoSyncItemResult `json:"results"`
	ServerTime int64                `json:"server_time"`
}
