// Package models tests for entity envelope and sync status state machine.
package models

import (
	"testing"
)

// TestTransition_legal verifies every allowed status transition.
func TestTransition_legal(t *testing.T) {
	cases := []struct {
		from, to SyncStatus
	}{
		{StatusSynced, StatusPending},
		{StatusPending, StatusPending},
		{StatusPending, StatusSynced},
		{StatusPending, StatusConflict},
		{StatusConflict, StatusPending},
		{StatusConflict, StatusSynced},
	}

	for _, c := range cases {
		if err := Transition(c.from, c.to); err != nil {
			t.Errorf("Transition(%s, %s) = %v, want nil", c.from, c.to, err)
		}
	}
}

// TestTransition_illegal verifies rejected transitions, including the
// rule that no entity may skip pending en route to synced.
func TestTransition_illegal(t *testing.T) {
	cases := []struct {
		from, to SyncStatus
	}{
		{StatusSynced, StatusConflict},
		{StatusSynced, StatusSynced},
		{StatusConflict, StatusConflict},
	}

	for _, c := range cases {
		if err := Transition(c.from, c.to); err == nil {
			t.Errorf("Transition(%s, %s) = nil, want error", c.from, c.to)
		}
	}
}

// TestTransition_unknownStatus verifies unknown states are rejected.
func TestTransition_unknownStatus(t *testing.T) {
	if err := Transition("bogus", StatusPending); err == nil {
		t.Error("Transition from unknown status should fail")
	}
	if err := Transition(StatusPending, "bogus"); err == nil {
		t.Error("Transition to unknown status should fail")
	}
}

// TestEntityTypeValid verifies entity type validation.
func TestEntityTypeValid(t *testing.T) {
	for _, typ := range EntityTypes {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if EntityType("folder").Valid() {
		t.Error("folder should not be a valid entity type")
	}
}

// TestEntityRecordClone verifies the payload is deep-copied.
func TestEntityRecordClone(t *testing.T) {
	rec := &EntityRecord{
		ID:         "note-1",
		Type:       EntityTypeNote,
		Version:    3,
		SyncStatus: StatusPending,
		Payload:    []byte(`{"title":"a"}`),
	}

	clone := rec.Clone()

	if clone.ID != rec.ID || clone.Version != rec.Version {
		t.Error("clone fields do not match original")
	}

	clone.Payload[2] = 'X'
	if rec.Payload[2] == 'X' {
		t.Error("mutating clone payload must not affect original")
	}
}

// TestNoteRoundTrip verifies a note survives the envelope round trip.
func TestNoteRoundTrip(t *testing.T) {
	note := &Note{
		ID:      "note-1",
		Title:   "Meeting notes",
		Content: "agenda",
		Tags:    []string{"work"},
	}

	rec, err := note.ToRecord(1, 1000, StatusPending)
	if err != nil {
		t.Fatalf("ToRecord() error = %v", err)
	}

	if rec.Type != EntityTypeNote {
		t.Errorf("record type = %s, want note", rec.Type)
	}
	if rec.SyncStatus != StatusPending {
		t.Errorf("record status = %s, want pending", rec.SyncStatus)
	}

	got, err := NoteFromRecord(rec)
	if err != nil {
		t.Fatalf("NoteFromRecord() error = %v", err)
	}

	if got.Title != note.Title || got.Content != note.Content {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

// TestTodoRoundTrip verifies a todo survives the envelope round trip.
func TestTodoRoundTrip(t *testing.T) {
	todo := &Todo{ID: "todo-1", Title: "buy milk", Done: true, SourceNoteID: "note-1"}

	rec, err := todo.ToRecord(2, 2000, StatusSynced)
	if err != nil {
		t.Fatalf("ToRecord() error = %v", err)
	}

	got, err := TodoFromRecord(rec)
	if err != nil {
		t.Fatalf("TodoFromRecord() error = %v", err)
	}

	if got.Title != todo.Title || !got.Done || got.SourceNoteID != "note-1" {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}
