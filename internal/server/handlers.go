package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/internal/remote"
	"github.com/plexa-app/plexa/pkg/hash"
	"github.com/plexa-app/plexa/pkg/jwt"
	"github.com/plexa-app/plexa/pkg/response"
)

// EntityHandler serves the sync protocol: creates, optimistic pushes,
// pulls, and the todo batch endpoint.
type EntityHandler struct {
	store     *Store
	validator *validator.Validate
}

func NewEntityHandler(store *Store) *EntityHandler {
	return &EntityHandler{store: store, validator: validator.New()}
}

func entityType(r *http.Request) (models.EntityType, bool) {
	typ := models.EntityType(mux.Vars(r)["type"])
	return typ, typ.Valid()
}

// Create handles POST /api/entities/{type}.
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	typ, ok := entityType(r)
	if !ok {
		response.BadRequest(w, "unknown entity type")
		return
	}

	var req remote.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	created, err := h.store.CreateEntity(typ, req.ID, req.Payload)
	if err != nil {
		if errors.Code(err) == errors.ErrConstraint {
			response.Conflict(w, "entity already exists")
			return
		}
		response.InternalError(w, "failed to create entity")
		return
	}

	writeBare(w, http.StatusCreated, wireEntity(created))
}

// Push handles PUT /api/entities/{type}/{id}. The response is part of
// the sync protocol: 200 with the new version, 409 with the server
// snapshot, or 400 with a rejection reason.
func (h *EntityHandler) Push(w http.ResponseWriter, r *http.Request) {
	typ, ok := entityType(r)
	if !ok {
		response.BadRequest(w, "unknown entity type")
		return
	}

	var req remote.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	req.ID = models.UUID(mux.Vars(r)["id"])
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if !json.Valid(req.Payload) {
		response.BadRequest(w, "payload is not valid JSON")
		return
	}

	decision, err := h.store.Push(typ, req.ID, req.BaseVersion, req.Payload, req.Deleted)
	if err != nil {
		logging.Error("push failed", err, map[string]interface{}{"entity_id": req.ID})
		response.InternalError(w, "push failed")
		return
	}

	h.writePushDecision(w, decision)
}

func (h *EntityHandler) writePushDecision(w http.ResponseWriter, decision *PushDecision) {
	switch {
	case decision.Accepted:
		writeBare(w, http.StatusOK, remote.PushAccepted{
			Version:   decision.Version,
			UpdatedAt: decision.UpdatedAt,
		})
	case decision.Current != nil:
		writeBare(w, http.StatusConflict, remote.PushConflict{
			RemoteVersion:   decision.Current.Version,
			RemoteUpdatedAt: decision.Current.UpdatedAt,
			RemotePayload:   decision.Current.Payload,
			RemoteDeleted:   decision.Current.Deleted,
		})
	default:
		response.BadRequest(w, "base version references an entity the server never issued")
	}
}

// Pull handles GET /api/entities/{type}?since=N.
func (h *EntityHandler) Pull(w http.ResponseWriter, r *http.Request) {
	typ, ok := entityType(r)
	if !ok {
		response.BadRequest(w, "unknown entity type")
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			response.BadRequest(w, "since must be a non-negative unix millisecond timestamp")
			return
		}
		since = parsed
	}

	rows, err := h.store.ListSince(typ, since)
	if err != nil {
		response.InternalError(w, "failed to list entities")
		return
	}

	pull := remote.PullResponse{
		Entities:   make([]*remote.Entity, 0, len(rows)),
		ServerTime: time.Now().UnixMilli(),
	}
	for _, row := range rows {
		pull.Entities = append(pull.Entities, wireEntity(row))
	}
	writeBare(w, http.StatusOK, pull)
}

// SyncTodos handles POST /api/todos/sync: one request carrying many todo
// pushes, each item resolved independently with PushEntity semantics.
func (h *EntityHandler) SyncTodos(w http.ResponseWriter, r *http.Request) {
	var req remote.TodoSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	resp := remote.TodoSyncResponse{Results: make([]remote.TodoSyncItemResult, 0, len(req.Items))}
	for _, item := range req.Items {
		result := remote.TodoSyncItemResult{ID: item.ID}

		if err := h.validator.Struct(item); err != nil {
			result.Outcome = remote.OutcomeRejected
			result.Error = err.Error()
			resp.Results = append(resp.Results, result)
			continue
		}
		if !json.Valid(item.Payload) {
			result.Outcome = remote.OutcomeRejected
			result.Error = "payload is not valid JSON"
			resp.Results = append(resp.Results, result)
			continue
		}

		decision, err := h.store.Push(models.EntityTypeTodo, item.ID, item.BaseVersion, item.Payload, item.Deleted)
		if err != nil {
			result.Outcome = remote.OutcomeRejected
			result.Error = "push failed"
			resp.Results = append(resp.Results, result)
			continue
		}
		switch {
		case decision.Accepted:
			result.Outcome = remote.OutcomeAccepted
			result.Accepted = &remote.PushAccepted{Version: decision.Version, UpdatedAt: decision.UpdatedAt}
		case decision.Current != nil:
			result.Outcome = remote.OutcomeConflict
			result.Conflict = &remote.PushConflict{
				RemoteVersion:   decision.Current.Version,
				RemoteUpdatedAt: decision.Current.UpdatedAt,
				RemotePayload:   decision.Current.Payload,
				RemoteDeleted:   decision.Current.Deleted,
			}
		default:
			result.Outcome = remote.OutcomeRejected
			result.Error = "base version references an entity the server never issued"
		}
		resp.Results = append(resp.Results, result)
	}

	writeBare(w, http.StatusOK, resp)
}

// AuthHandler serves account registration and login.
type AuthHandler struct {
	store      *Store
	jwtSecret  string
	expiration time.Duration
	validator  *validator.Validate
}

func NewAuthHandler(store *Store, jwtSecret string, expiration time.Duration) *AuthHandler {
	return &AuthHandler{
		store:      store,
		jwtSecret:  jwtSecret,
		expiration: expiration,
		validator:  validator.New(),
	}
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	hashed, err := hash.Hash(req.Password)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if _, err := h.store.CreateUser(req.Email, req.Name, hashed); err != nil {
		response.BadRequest(w, "email already registered")
		return
	}

	response.Created(w, map[string]string{"message": "account created"})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	user, err := h.store.GetUserByEmail(req.Email)
	if err != nil {
		response.Unauthorized(w, "invalid credentials")
		return
	}
	if err := hash.Compare(user.PasswordHash, req.Password); err != nil {
		response.Unauthorized(w, "invalid credentials")
		return
	}

	token, err := jwt.GenerateToken(string(user.ID), h.expiration, h.jwtSecret)
	if err != nil {
		response.InternalError(w, "failed to issue token")
		return
	}

	response.Success(w, LoginResponse{Token: token, UserID: string(user.ID), Name: user.Name})
}

func wireEntity(e *ServerEntity) *remote.Entity {
	return &remote.Entity{
		ID:        e.ID,
		Type:      e.Type,
		Version:   e.Version,
		UpdatedAt: e.UpdatedAt,
		Payload:   e.Payload,
		Deleted:   e.Deleted,
	}
}

// writeBare writes a sync protocol body without the response envelope;
// push and pull payloads are protocol data, not API errors.
func writeBare(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
