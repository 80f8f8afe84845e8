package models

import "time"

// NoteVersion is an immutable snapshot of a note at a committed save.
// History rows are append-only; a restore appends a new version and never
// rewrites or renumbers earlier ones.
type NoteVersion struct {
	ID                UUID   `db:"id" json:"id"`
	NoteID            UUID   `db:"note_id" json:"note_id"`
	Version           int64  `db:"version" json:"version"`
	Title             string `db:"title" json:"title"`
	Content           string `db:"content" json:"content"`
	AuthorID          string `db:"author_id" json:"author_id"`
	AuthorName        string `db:"author_name" json:"author_name"`
	ChangeDescription string `db:"change_description" json:"change_description,omitempty"`
	CreatedAt         int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for NoteVersion.
func (NoteVersion) TableName() string {
	return "note_versions"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (v *NoteVersion) CreatedAtTime() time.Time {
	return time.UnixMilli(v.CreatedAt)
}
