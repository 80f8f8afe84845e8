package presence

import (
	"context"
	"strings"
	"sync"

	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/events"
	"github.com/plexa-app/plexa/internal/models"
)

// Manager owns the local user's collaboration sessions: at most one is
// live at a time, and switching notes tears the previous one down.
type Manager struct {
	baseURL string
	token   string
	user    models.CollaborationUser
	bus     *events.Bus

	mu       sync.Mutex
	sessions map[models.UUID]*Session
}

// NewManager creates a session manager. baseURL is the entity service
// root (http:// or https://); the websocket scheme is derived from it.
func NewManager(baseURL, token string, user models.CollaborationUser, bus *events.Bus) *Manager {
	return &Manager{
		baseURL:  baseURL,
		token:    token,
		user:     user,
		bus:      bus,
		sessions: make(map[models.UUID]*Session),
	}
}

// SetToken swaps the bearer token used for new sessions.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

func (m *Manager) wsURL(noteID models.UUID) string {
	url := m.baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return strings.TrimSuffix(url, "/") + "/ws/presence/" + string(noteID)
}

// Join opens a presence session for a note. Joining the note that is
// already live returns its session; joining a different note tears the
// previous session down first, so at most one session is ever open.
func (m *Manager) Join(ctx context.Context, noteID models.UUID) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[noteID]; ok {
		select {
		case <-s.Done():
			// Stale; fall through and replace it.
		default:
			m.mu.Unlock()
			return s, nil
		}
	}
	stale := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		if id != noteID {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	url := m.wsURL(noteID)
	token := m.token
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}

	s, err := Dial(ctx, url, token, noteID, m.user, m.bus)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[noteID] = s
	m.mu.Unlock()

	// Reap the map entry when the session dies on its own.
	go func() {
		<-s.Done()
		m.mu.Lock()
		if m.sessions[noteID] == s {
			delete(m.sessions, noteID)
		}
		m.mu.Unlock()
	}()

	return s, nil
}

// Leave closes the session for one note, if any.
func (m *Manager) Leave(noteID models.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[noteID]
	delete(m.sessions, noteID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Roster returns the active collaborators for a note, nil when no
// session is open.
func (m *Manager) Roster(noteID models.UUID) []models.UserPresence {
	m.mu.Lock()
	s, ok := m.sessions[noteID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Roster()
}

// UpdateCursor forwards a caret move on an open session.
func (m *Manager) UpdateCursor(noteID models.UUID, cursor models.CursorPosition) error {
	m.mu.Lock()
	s, ok := m.sessions[noteID]
	m.mu.Unlock()
	if !ok {
		return errors.Newf(errors.ErrPresenceClosed, "no presence session for note %s", noteID)
	}
	return s.UpdateCursor(cursor)
}

// CloseAll tears down every session, used when connectivity drops or
// the app shuts down. Sync state is untouched.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[models.UUID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
