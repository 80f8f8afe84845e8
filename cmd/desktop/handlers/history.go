package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/plexa-app/plexa/internal/history"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/pkg/response"
)

// HistoryHandler serves note version history and restores.
type HistoryHandler struct {
	svc        *history.Service
	authorID   models.UUID
	authorName string
}

func NewHistoryHandler(svc *history.Service, authorID models.UUID, authorName string) *HistoryHandler {
	return &HistoryHandler{svc: svc, authorID: authorID, authorName: authorName}
}

func pathVersion(r *http.Request) (int64, bool) {
	v, err := strconv.ParseInt(mux.Vars(r)["version"], 10, 64)
	return v, err == nil && v > 0
}

// List handles GET /api/notes/{id}/versions, newest first.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.GetVersionHistory(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, versions)
}

type SnapshotRequest struct {
	Description string `json:"description"`
}

// Snapshot handles POST /api/notes/{id}/versions: an explicit save point
// beyond the automatic per-edit snapshots.
func (h *HistoryHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Description == "" {
		req.Description = "Manual snapshot"
	}

	v, err := h.svc.CreateVersion(pathID(r, "id"), h.authorID, h.authorName, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, v)
}

// Get handles GET /api/notes/{id}/versions/{version}.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(r)
	if !ok {
		response.BadRequest(w, "invalid version number")
		return
	}
	v, err := h.svc.GetVersion(pathID(r, "id"), version)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, v)
}

// Restore handles POST /api/notes/{id}/versions/{version}/restore. The
// restored content becomes a new pending edit, never a history rewrite.
func (h *HistoryHandler) Restore(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(r)
	if !ok {
		response.BadRequest(w, "invalid version number")
		return
	}
	v, err := h.svc.RestoreVersion(pathID(r, "id"), version, h.authorID, h.authorName)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, v)
}
