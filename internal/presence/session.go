package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/events"
	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Session is one user's live connection to a note's presence channel.
// It keeps a local roster fed by server roster broadcasts and tears the
// whole thing down when the connection drops, clean or not.
type Session struct {
	noteID models.UUID
	user   models.CollaborationUser
	conn   *websocket.Conn
	roster *Roster
	bus    *events.Bus
	send   chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Dial opens a presence session for one note. url is the full ws:// or
// wss:// endpoint; token is passed as a bearer header.
func Dial(ctx context.Context, url, token string, noteID models.UUID, user models.CollaborationUser, bus *events.Bus) (*Session, error) {
	header := map[string][]string{}
	if token != "" {
		header["Authorization"] = []string{"Bearer " + token}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransientNetwork, "presence dial", err)
	}

	s := &Session{
		noteID: noteID,
		user:   user,
		conn:   conn,
		roster: NewRoster(),
		bus:    bus,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	go s.readPump()
	go s.writePump()

	if err := s.sendMessage(TypeJoin, JoinPayload{NoteID: noteID, User: user}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Roster returns the current view of active collaborators.
func (s *Session) Roster() []models.UserPresence {
	return s.roster.List()
}

// UpdateCursor broadcasts this user's caret position.
func (s *Session) UpdateCursor(cursor models.CursorPosition) error {
	return s.sendMessage(TypeCursor, CursorPayload{
		NoteID: s.noteID,
		UserID: s.user.UserID,
		Cursor: cursor,
	})
}

// Close leaves the session. Safe to call more than once; the roster is
// cleared either way.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	// Best-effort leave announcement before the connection goes away.
	msg, err := NewMessage(TypeLeave, LeavePayload{NoteID: s.noteID, UserID: s.user.UserID})
	if err == nil {
		if data, merr := json.Marshal(msg); merr == nil {
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.conn.Close()

	s.teardown()
}

// Done is closed when the session ends for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) sendMessage(typ MessageType, payload interface{}) error {
	msg, err := NewMessage(typ, payload)
	if err != nil {
		return errors.Wrap(errors.ErrPresenceClosed, "encode presence message", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(errors.ErrPresenceClosed, "encode presence message", err)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New(errors.ErrPresenceClosed, "presence session closed")
	}

	select {
	case s.send <- data:
		return nil
	default:
		return errors.New(errors.ErrPresenceClosed, "presence send buffer full")
	}
}

func (s *Session) readPump() {
	defer s.disconnected()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("presence connection lost", map[string]interface{}{
					"note_id": s.noteID, "error": err.Error(),
				})
			}
			return
		}
		s.handleMessage(data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.Warn("malformed presence message", map[string]interface{}{"error": err.Error()})
		return
	}

	switch msg.Type {
	case TypeRoster:
		var p RosterPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return
		}
		s.roster.Replace(p.Users)
		s.emit(events.PresenceUpdate, map[string]interface{}{
			"note_id": s.noteID.String(),
			"users":   len(p.Users),
		})

	case TypeJoin:
		var p JoinPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return
		}
		s.roster.Apply(models.UserPresence{
			UserID:       p.User.UserID,
			UserName:     p.User.UserName,
			NoteID:       p.NoteID,
			LastActivity: msg.Timestamp.UnixMilli(),
		})
		s.emit(events.PresenceJoined, map[string]interface{}{
			"note_id": s.noteID.String(),
			"user_id": p.User.UserID,
		})

	case TypeLeave:
		var p LeavePayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return
		}
		if s.roster.Remove(p.UserID) {
			s.emit(events.PresenceLeft, map[string]interface{}{
				"note_id": s.noteID.String(),
				"user_id": p.UserID,
			})
		}

	case TypeCursor:
		var p CursorPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return
		}
		if existing, ok := s.roster.Get(p.UserID); ok {
			existing.Cursor = &p.Cursor
			existing.LastActivity = msg.Timestamp.UnixMilli()
			s.roster.Apply(existing)
			s.emit(events.PresenceUpdate, map[string]interface{}{
				"note_id": s.noteID.String(),
				"user_id": p.UserID,
			})
		}
	}
}

// disconnected runs when the read pump exits. All presence state for the
// session is discarded; sync status of the note is untouched.
func (s *Session) disconnected() {
	s.mu.Lock()
	alreadyClosed := s.closed
	if !alreadyClosed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()

	s.conn.Close()
	if !alreadyClosed {
		s.teardown()
	}
}

func (s *Session) teardown() {
	s.roster.Clear()
	s.emit(events.PresenceLeft, map[string]interface{}{
		"note_id": s.noteID.String(),
		"user_id": s.user.UserID,
	})
	logging.Debug("presence session ended", map[string]interface{}{
		"note_id": s.noteID,
	})
}

func (s *Session) emit(typ events.EventType, data map[string]interface{}) {
	if s.bus != nil {
		s.bus.Emit(typ, data)
	}
}
