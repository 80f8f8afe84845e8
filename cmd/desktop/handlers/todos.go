package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/plexa-app/plexa/internal/db"
	apperrors "github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/pkg/response"
)

// TodosHandler serves local todo CRUD. Todos are synced as a batch, but
// locally they behave like any other entity.
type TodosHandler struct {
	repo      *db.Repository
	validator *validator.Validate
}

func NewTodosHandler(repo *db.Repository) *TodosHandler {
	return &TodosHandler{repo: repo, validator: validator.New()}
}

type TodoRequest struct {
	Title        string      `json:"title" validate:"required"`
	Done         bool        `json:"done"`
	DueAt        int64       `json:"due_at"`
	SourceNoteID models.UUID `json:"source_note_id"`
}

type TodoView struct {
	*models.Todo
	Version    int64             `json:"version"`
	SyncStatus models.SyncStatus `json:"sync_status"`
}

// Create handles POST /api/todos.
func (h *TodosHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req TodoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	todo := &models.Todo{
		ID:           models.UUID(uuid.New().String()),
		Title:        req.Title,
		Done:         req.Done,
		DueAt:        req.DueAt,
		SourceNoteID: req.SourceNoteID,
	}
	rec, err := todo.ToRecord(0, nowMillis(), models.StatusPending)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	if err := h.repo.SaveLocal(rec); err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, &TodoView{Todo: todo, Version: rec.Version, SyncStatus: rec.SyncStatus})
}

// List handles GET /api/todos.
func (h *TodosHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.repo.ListEntities(models.EntityTypeTodo)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]*TodoView, 0, len(recs))
	for _, rec := range recs {
		if rec.Deleted {
			continue
		}
		t, err := models.TodoFromRecord(rec)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, &TodoView{Todo: t, Version: rec.Version, SyncStatus: rec.SyncStatus})
	}
	response.Success(w, views)
}

// Get handles GET /api/todos/{id}.
func (h *TodosHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.loadTodo(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := models.TodoFromRecord(rec)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	response.Success(w, &TodoView{Todo: t, Version: rec.Version, SyncStatus: rec.SyncStatus})
}

// Update handles PUT /api/todos/{id}.
func (h *TodosHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req TodoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	rec, err := h.loadTodo(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.SyncStatus == models.StatusConflict {
		response.Conflict(w, "todo has an unresolved conflict")
		return
	}

	todo := &models.Todo{
		ID:           rec.ID,
		Title:        req.Title,
		Done:         req.Done,
		DueAt:        req.DueAt,
		SourceNoteID: req.SourceNoteID,
	}
	updated, err := todo.ToRecord(rec.Version, nowMillis(), models.StatusPending)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	if err := h.repo.SaveLocal(updated); err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, &TodoView{Todo: todo, Version: updated.Version, SyncStatus: updated.SyncStatus})
}

// Delete handles DELETE /api/todos/{id}.
func (h *TodosHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, err := h.loadTodo(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.SyncStatus == models.StatusConflict {
		response.Conflict(w, "todo has an unresolved conflict")
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

func (h *TodosHandler) loadTodo(id models.UUID) (*models.EntityRecord, error) {
	rec, err := h.repo.GetEntity(id)
	if err != nil {
		return nil, err
	}
	if rec.Type != models.EntityTypeTodo || rec.Deleted {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "todo %s not found", id)
	}
	return rec, nil
}
