package handlers

import (
	"net/http"

	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/internal/presence"
	"github.com/plexa-app/plexa/pkg/response"
)

// PresenceHandler bridges the UI to live presence sessions. Presence is
// ephemeral; nothing here touches sync state.
type PresenceHandler struct {
	manager *presence.Manager
}

func NewPresenceHandler(manager *presence.Manager) *PresenceHandler {
	return &PresenceHandler{manager: manager}
}

// Join handles POST /api/presence/{noteID}/join. Joining twice is a
// no-op while the session is healthy.
func (h *PresenceHandler) Join(w http.ResponseWriter, r *http.Request) {
	noteID := pathID(r, "noteID")
	if _, err := h.manager.Join(r.Context(), noteID); err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, map[string]interface{}{
		"note_id": noteID,
		"roster":  h.manager.Roster(noteID),
	})
}

// Leave handles POST /api/presence/{noteID}/leave.
func (h *PresenceHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.manager.Leave(pathID(r, "noteID"))
	response.Success(w, map[string]string{"status": "left"})
}

// Roster handles GET /api/presence/{noteID}. An empty roster means no
// active session for that note.
func (h *PresenceHandler) Roster(w http.ResponseWriter, r *http.Request) {
	noteID := pathID(r, "noteID")
	roster := h.manager.Roster(noteID)
	if roster == nil {
		roster = []models.UserPresence{}
	}
	response.Success(w, map[string]interface{}{
		"note_id": noteID,
		"users":   roster,
	})
}

// Cursor handles POST /api/presence/{noteID}/cursor.
func (h *PresenceHandler) Cursor(w http.ResponseWriter, r *http.Request) {
	var cursor models.CursorPosition
	if !decodeJSON(w, r, &cursor) {
		return
	}
	if err := h.manager.UpdateCursor(pathID(r, "noteID"), cursor); err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, map[string]string{"status": "ok"})
}
