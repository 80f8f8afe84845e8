package presence

import (
	"sort"
	"sync"

	"github.com/plexa-app/plexa/internal/models"
)

// Roster is the set of users currently active in a note, keyed by user
// id. Updates apply last-writer-wins on LastActivity so a stale cursor
// arriving out of order cannot rewind a newer one.
type Roster struct {
	mu    sync.RWMutex
	users map[string]*models.UserPresence
}

func NewRoster() *Roster {
	return &Roster{users: make(map[string]*models.UserPresence)}
}

// Apply upserts a user's presence. Returns false when the update is
// older than what the roster already holds.
func (r *Roster) Apply(p models.UserPresence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.users[p.UserID]; ok && existing.LastActivity > p.LastActivity {
		return false
	}
	copy := p
	r.users[p.UserID] = &copy
	return true
}

// Remove drops a user, returning whether they were present.
func (r *Roster) Remove(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	delete(r.users, userID)
	return ok
}

// Replace swaps the whole roster for the server's authoritative view.
func (r *Roster) Replace(users []models.UserPresence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]*models.UserPresence, len(users))
	for _, u := range users {
		copy := u
		r.users[u.UserID] = &copy
	}
}

// List returns the roster sorted by user id for stable iteration.
func (r *Roster) List() []models.UserPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.UserPresence, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Get returns one user's presence.
func (r *Roster) Get(userID string) (models.UserPresence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return models.UserPresence{}, false
	}
	return *u, true
}

// Size returns how many users are active.
func (r *Roster) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Clear empties the roster, used on disconnect.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]*models.UserPresence)
}
