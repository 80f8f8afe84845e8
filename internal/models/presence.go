package models

import "time"

// CursorPosition is a collaborator's caret location inside a note.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// CollaborationUser identifies a participant in a collaboration session.
type CollaborationUser struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// UserPresence is the ephemeral state of one active editor of a note.
// It is never persisted; the presence service owns it for the lifetime of
// a collaboration session and rebuilds it from the transport on reconnect.
type UserPresence struct {
	UserID       string          `json:"user_id"`
	UserName     string          `json:"user_name"`
	NoteID       UUID            `json:"note_id"`
	Cursor       *CursorPosition `json:"cursor,omitempty"`
	LastActivity int64           `json:"last_activity"`
}

// LastActivityTime returns LastActivity as time.Time.
func (p *UserPresence) LastActivityTime() time.Time {
	return time.UnixMilli(p.LastActivity)
}
