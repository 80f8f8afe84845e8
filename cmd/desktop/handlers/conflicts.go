package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/internal/sync/conflict"
	"github.com/plexa-app/plexa/pkg/response"
)

// ConflictsHandler lets the UI inspect and settle version conflicts.
type ConflictsHandler struct {
	resolver *conflict.Resolver
}

func NewConflictsHandler(resolver *conflict.Resolver) *ConflictsHandler {
	return &ConflictsHandler{resolver: resolver}
}

// List handles GET /api/conflicts.
func (h *ConflictsHandler) List(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.resolver.List()
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, conflicts)
}

// Active handles GET /api/conflicts/active: the conflict the UI should
// surface next, oldest first. Data is null when nothing is open.
func (h *ConflictsHandler) Active(w http.ResponseWriter, r *http.Request) {
	c, err := h.resolver.Active()
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, c)
}

// Get handles GET /api/conflicts/{id}.
func (h *ConflictsHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.resolver.Get(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, c)
}

type ResolveRequest struct {
	Resolution    models.Resolution `json:"resolution"`
	MergedPayload json.RawMessage   `json:"merged_payload,omitempty"`
}

// Resolve handles POST /api/conflicts/{id}/resolve. Local and merged
// choices queue a repush; remote adopts the server version as is.
func (h *ConflictsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.resolver.Resolve(pathID(r, "id"), req.Resolution, req.MergedPayload); err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, map[string]string{"status": "resolved"})
}
