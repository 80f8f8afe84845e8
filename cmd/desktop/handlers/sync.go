package handlers

import (
	"context"
	"net/http"

	"github.com/plexa-app/plexa/internal/db"
	apperrors "github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/models"
	syncengine "github.com/plexa-app/plexa/internal/sync"
	"github.com/plexa-app/plexa/internal/sync/queue"
	"github.com/plexa-app/plexa/internal/sync/scheduler"
	"github.com/plexa-app/plexa/pkg/response"
)

// SyncHandler exposes manual sync control and status to the UI.
type SyncHandler struct {
	repo   *db.Repository
	engine *syncengine.Engine
	queue  *queue.RetryQueue
	sched  *scheduler.Scheduler
}

func NewSyncHandler(repo *db.Repository, engine *syncengine.Engine, q *queue.RetryQueue, sched *scheduler.Scheduler) *SyncHandler {
	return &SyncHandler{repo: repo, engine: engine, queue: q, sched: sched}
}

// TriggerSync handles POST /api/sync/now. Concurrent triggers join the
// sweep already in flight.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.TriggerSync(r.Context())
	if err != nil {
		if apperrors.Code(err) == apperrors.ErrSyncOffline {
			h.sched.SetOnline(context.WithoutCancel(r.Context()), false)
		}
		writeError(w, err)
		return
	}

	// Reaching the server proves connectivity.
	h.sched.SetOnline(context.WithoutCancel(r.Context()), true)
	response.Success(w, result)
}

// GetStatus handles GET /api/sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.repo.ListByStatus(models.StatusPending)
	if err != nil {
		writeError(w, err)
		return
	}
	conflicted, err := h.repo.ListByStatus(models.StatusConflict)
	if err != nil {
		writeError(w, err)
		return
	}

	status := map[string]interface{}{
		"online":    h.sched.IsOnline(),
		"pending":   len(pending),
		"conflicts": len(conflicted),
	}
	if last := h.sched.LastSyncTime(); !last.IsZero() {
		status["last_sync"] = last.UnixMilli()
	}
	if h.queue != nil {
		status["retry_queue"] = h.queue.Stats()
	}
	response.Success(w, status)
}

// SetOnline handles POST /api/sync/online. The UI reports connectivity
// changes; going online resets retry budgets and kicks a sweep.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.sched.SetOnline(context.WithoutCancel(r.Context()), req.Online)
	response.Success(w, map[string]bool{"online": req.Online})
}
