// Package presence tracks which collaborators are active in a note.
// Presence is ephemeral: nothing here touches the entity store or sync
// status, and all of it evaporates when the connection drops.
package presence

import (
	"encoding/json"
	"time"

	"github.com/plexa-app/plexa/internal/models"
)

type MessageType string

const (
	TypeJoin   MessageType = "join"
	TypeLeave  MessageType = "leave"
	TypeCursor MessageType = "cursor"
	TypeRoster MessageType = "roster"
)

// Message is the envelope for all presence traffic, both directions.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	NoteID models.UUID              `json:"note_id"`
	User   models.CollaborationUser `json:"user"`
}

type LeavePayload struct {
	NoteID models.UUID `json:"note_id"`
	UserID string      `json:"user_id"`
}

type CursorPayload struct {
	NoteID models.UUID           `json:"note_id"`
	UserID string                `json:"user_id"`
	Cursor models.CursorPosition `json:"cursor"`
}

// RosterPayload is the server's full view of a note's active editors,
// sent on join and after every membership change.
type RosterPayload struct {
	NoteID models.UUID           `json:"note_id"`
	Users  []models.UserPresence `json:"users"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}
	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
