// Package handlers provides the localhost REST API the desktop UI talks
// to. All state lives in the local entity cache; mutations mark entities
// pending and the sync layer pushes them in the background.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/pkg/response"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func pathID(r *http.Request, key string) models.UUID {
	return models.UUID(mux.Vars(r)[key])
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// writeError maps application error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch apperrors.Code(err) {
	case apperrors.ErrNotFound:
		response.NotFound(w, err.Error())
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrResolution:
		response.BadRequest(w, err.Error())
	case apperrors.ErrConstraint, apperrors.ErrDuplicate, apperrors.ErrVersionConflict:
		response.Conflict(w, err.Error())
	case apperrors.ErrSyncOffline, apperrors.ErrTransientNetwork:
		response.Error(w, http.StatusServiceUnavailable, err.Error())
	case apperrors.ErrPresenceClosed:
		response.Error(w, http.StatusGone, err.Error())
	default:
		response.InternalError(w, err.Error())
	}
}
