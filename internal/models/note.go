// Package models provides data model definitions for the Plexa sync backend.
package models

import "encoding/json"

// Note is the payload of a note entity.
type Note struct {
	ID        UUID     `json:"id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
	Archived  bool     `json:"archived"`
	Favorite  bool     `json:"favorite"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// NoteFromRecord unmarshals a note payload out of an entity envelope.
func NoteFromRecord(rec *EntityRecord) (*Note, error) {
	var n Note
	if err := json.Unmarshal(rec.Payload, &n); err != nil {
		return nil, err
	}
	if n.ID == "" {
		n.ID = rec.ID
	}
	return &n, nil
}

// ToRecord wraps the note in an entity envelope with the given sync state.
func (n *Note) ToRecord(version int64, updatedAt int64, status SyncStatus) (*EntityRecord, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return &EntityRecord{
		ID:         n.ID,
		Type:       EntityTypeNote,
		Version:    version,
		UpdatedAt:  updatedAt,
		SyncStatus: status,
		Payload:    payload,
	}, nil
}
