package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/plexa-app/plexa/internal/db"
	apperrors "github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/history"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/pkg/response"
)

// NotesHandler serves local note CRUD. Every mutation marks the note
// pending; each successful save also snapshots a history version.
type NotesHandler struct {
	repo       *db.Repository
	history    *history.Service
	validator  *validator.Validate
	authorID   models.UUID
	authorName string
}

func NewNotesHandler(repo *db.Repository, hist *history.Service, authorID models.UUID, authorName string) *NotesHandler {
	return &NotesHandler{
		repo:       repo,
		history:    hist,
		validator:  validator.New(),
		authorID:   authorID,
		authorName: authorName,
	}
}

type CreateNoteRequest struct {
	Title    string   `json:"title" validate:"required"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	Favorite bool     `json:"favorite"`
}

type UpdateNoteRequest struct {
	Title    string   `json:"title" validate:"required"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	Archived bool     `json:"archived"`
	Favorite bool     `json:"favorite"`
}

// NoteView is a note plus its sync bookkeeping, as shown to the UI.
type NoteView struct {
	*models.Note
	Version    int64             `json:"version"`
	SyncStatus models.SyncStatus `json:"sync_status"`
}

func noteView(rec *models.EntityRecord) (*NoteView, error) {
	n, err := models.NoteFromRecord(rec)
	if err != nil {
		return nil, err
	}
	return &NoteView{Note: n, Version: rec.Version, SyncStatus: rec.SyncStatus}, nil
}

// Create handles POST /api/notes.
func (h *NotesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	now := nowMillis()
	note := &models.Note{
		ID:        models.UUID(uuid.New().String()),
		Title:     req.Title,
		Content:   req.Content,
		Tags:      req.Tags,
		Favorite:  req.Favorite,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec, err := note.ToRecord(0, now, models.StatusPending)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	if err := h.repo.SaveLocal(rec); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.history.CreateVersion(note.ID, h.authorID, h.authorName, "Created"); err != nil {
		writeError(w, err)
		return
	}

	response.Created(w, &NoteView{Note: note, Version: rec.Version, SyncStatus: rec.SyncStatus})
}

// List handles GET /api/notes. Soft-deleted notes are hidden.
func (h *NotesHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.repo.ListEntities(models.EntityTypeNote)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]*NoteView, 0, len(recs))
	for _, rec := range recs {
		if rec.Deleted {
			continue
		}
		v, err := noteView(rec)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, v)
	}
	response.Success(w, views)
}

// Get handles GET /api/notes/{id}.
func (h *NotesHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.loadNote(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := noteView(rec)
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, v)
}

// Update handles PUT /api/notes/{id}. Notes in conflict must be
// resolved before they accept further edits.
func (h *NotesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	rec, err := h.loadNote(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.SyncStatus == models.StatusConflict {
		response.Conflict(w, "note has an unresolved conflict")
		return
	}

	note, err := models.NoteFromRecord(rec)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	note.Title = req.Title
	note.Content = req.Content
	note.Tags = req.Tags
	note.Archived = req.Archived
	note.Favorite = req.Favorite
	note.UpdatedAt = nowMillis()

	updated, err := note.ToRecord(rec.Version, note.UpdatedAt, models.StatusPending)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	if err := h.repo.SaveLocal(updated); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.history.CreateVersion(note.ID, h.authorID, h.authorName, "Edited"); err != nil {
		writeError(w, err)
		return
	}

	response.Success(w, &NoteView{Note: note, Version: updated.Version, SyncStatus: updated.SyncStatus})
}

// Delete handles DELETE /api/notes/{id}. Deletes are soft so they can
// be pushed as tombstones.
func (h *NotesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, err := h.loadNote(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.SyncStatus == models.StatusConflict {
		response.Conflict(w, "note has an unresolved conflict")
		return
	}

	rec.Deleted = true
	rec.UpdatedAt = nowMillis()
	if err := h.repo.SaveLocal(rec); err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, map[string]string{"status": "deleted"})
}

func (h *NotesHandler) loadNote(id models.UUID) (*models.EntityRecord, error) {
	rec, err := h.repo.GetEntity(id)
	if err != nil {
		return nil, err
	}
	if rec.Type != models.EntityTypeNote || rec.Deleted {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "note %s not found", id)
	}
	return rec, nil
}
