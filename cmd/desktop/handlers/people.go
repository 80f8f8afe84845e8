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

// PeopleHandler serves local contact CRUD.
type PeopleHandler struct {
	repo      *db.Repository
	validator *validator.Validate
}

func NewPeopleHandler(repo *db.Repository) *PeopleHandler {
	return &PeopleHandler{repo: repo, validator: validator.New()}
}

type PersonRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
	Notes   string `json:"notes"`
}

type PersonView struct {
	*models.Person
	Version    int64             `json:"version"`
	SyncStatus models.SyncStatus `json:"sync_status"`
}

// Create handles POST /api/people.
func (h *PeopleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req PersonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	person := &models.Person{
		ID:      models.UUID(uuid.New().String()),
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
		Notes:   req.Notes,
	}
	rec, err := person.ToRecord(0, nowMillis(), models.StatusPending)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	if err := h.repo.SaveLocal(rec); err != nil {
		writeError(w, err)
		return
	}
	response.Created(w, &PersonView{Person: person, Version: rec.Version, SyncStatus: rec.SyncStatus})
}

// List handles GET /api/people.
func (h *PeopleHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.repo.ListEntities(models.EntityTypePerson)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]*PersonView, 0, len(recs))
	for _, rec := range recs {
		if rec.Deleted {
			continue
		}
		p, err := models.PersonFromRecord(rec)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, &PersonView{Person: p, Version: rec.Version, SyncStatus: rec.SyncStatus})
	}
	response.Success(w, views)
}

// Get handles GET /api/people/{id}.
func (h *PeopleHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.loadPerson(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := models.PersonFromRecord(rec)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	response.Success(w, &PersonView{Person: p, Version: rec.Version, SyncStatus: rec.SyncStatus})
}

// Update handles PUT /api/people/{id}.
func (h *PeopleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req PersonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	rec, err := h.loadPerson(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.SyncStatus == models.StatusConflict {
		response.Conflict(w, "contact has an unresolved conflict")
		return
	}

	person := &models.Person{
		ID:      rec.ID,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
		Notes:   req.Notes,
	}
	updated, err := person.ToRecord(rec.Version, nowMillis(), models.StatusPending)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	if err := h.repo.SaveLocal(updated); err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, &PersonView{Person: person, Version: updated.Version, SyncStatus: updated.SyncStatus})
}

// Delete handles DELETE /api/people/{id}.
func (h *PeopleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, err := h.loadPerson(pathID(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.SyncStatus == models.StatusConflict {
		response.Conflict(w, "contact has an unresolved conflict")
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

func (h *PeopleHandler) loadPerson(id models.UUID) (*models.EntityRecord, error) {
	rec, err := h.repo.GetEntity(id)
	if err != nil {
		return nil, err
	}
	if rec.Type != models.EntityTypePerson || rec.Deleted {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "contact %s not found", id)
	}
	return rec, nil
}
