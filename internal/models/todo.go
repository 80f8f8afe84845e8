package models

import "encoding/json"

// Todo is the payload of a todo entity. SourceNoteID links a todo back to
// the note it was extracted from, when there is one.
type Todo struct {
	ID           UUID   `json:"id"`
	Title        string `json:"title"`
	Done         bool   `json:"done"`
	DueAt        int64  `json:"due_at,omitempty"`
	SourceNoteID UUID   `json:"source_note_id,omitempty"`
}

// TodoFromRecord unmarshals a todo payload out of an entity envelope.
func TodoFromRecord(rec *EntityRecord) (*Todo, error) {
	var t Todo
	if err := json.Unmarshal(rec.Payload, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = rec.ID
	}
	return &t, nil
}

// ToRecord wraps the todo in an entity envelope with the given sync state.
func (t *Todo) ToRecord(version int64, updatedAt int64, status SyncStatus) (*EntityRecord, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &EntityRecord{
		ID:         t.ID,
		Type:       EntityTypeTodo,
		Version:    version,
		UpdatedAt:  updatedAt,
		SyncStatus: status,
		Payload:    payload,
	}, nil
}
