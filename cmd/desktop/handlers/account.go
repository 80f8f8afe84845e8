package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/plexa-app/plexa/internal/db"
	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/presence"
	"github.com/plexa-app/plexa/internal/remote"
	"github.com/plexa-app/plexa/pkg/response"
)

// AccountHandler signs this device in and out of the entity service.
// The token is held in memory only; logout wipes the local cache.
type AccountHandler struct {
	repo      *db.Repository
	client    *remote.Client
	presence  *presence.Manager
	validator *validator.Validate
}

func NewAccountHandler(repo *db.Repository, client *remote.Client, presenceMgr *presence.Manager) *AccountHandler {
	return &AccountHandler{
		repo:      repo,
		client:    client,
		presence:  presenceMgr,
		validator: validator.New(),
	}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /api/auth/login: authenticates against the entity
// service and arms the sync client and presence sessions with the token.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	token, err := h.client.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.presence.SetToken(token)

	logging.Info("signed in", map[string]interface{}{"email": req.Email})
	response.Success(w, map[string]string{"token": token})
}

// Logout handles POST /api/auth/logout: drops the token, closes presence
// sessions and wipes the local cache, conflicts and history.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.client.SetToken("")
	h.presence.SetToken("")
	h.presence.CloseAll()

	if err := h.repo.ClearCache(); err != nil {
		writeError(w, err)
		return
	}
	logging.Info("signed out, local cache cleared")
	response.Success(w, map[string]string{"status": "logged_out"})
}

// Cleanup handles POST /api/cache/cleanup: purges soft-deleted synced
// rows and resolved conflict leftovers without touching live data.
func (h *AccountHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	purged, err := h.repo.CleanupCache()
	if err != nil {
		writeError(w, err)
		return
	}
	response.Success(w, map[string]int64{"purged": purged})
}
