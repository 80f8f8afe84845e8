// Package sync orchestrates push/pull cycles between the local entity
// store and the remote entity service.
package sync

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plexa-app/plexa/internal/db"
	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/events"
	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/internal/remote"
)

// RemoteService is the slice of the entity service client the engine uses.
type RemoteService interface {
	PushEntity(ctx context.Context, typ models.EntityType, req remote.PushRequest) (*remote.PushResult, error)
	SyncTodos(ctx context.Context, req remote.TodoSyncRequest) (*remote.TodoSyncResponse, error)
	PullSince(ctx context.Context, typ models.EntityType, since int64) (*remote.PullResponse, error)
}

// RetrySink receives entities whose push failed transiently so a later
// pass can retry them on a backoff schedule.
type RetrySink interface {
	EnqueuePush(entityID models.UUID, typ models.EntityType) error
}

// Rejection is a validation rejection surfaced to the caller. The entity
// stays pending and is not retried automatically.
type Rejection struct {
	EntityID models.UUID `json:"entity_id"`
	Reason   string      `json:"reason"`
}

// SyncResult aggregates the outcome of one sync pass. Entity-level
// failures are counted, never raised.
type SyncResult struct {
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Synced     int           `json:"synced"`
	Failed     int           `json:"failed"`
	Conflicts  int           `json:"conflicts"`
	Pulled     int           `json:"pulled"`
	Rejections []Rejection   `json:"rejections,omitempty"`
}

// Engine coordinates synchronization. Concurrent TriggerSync callers are
// coalesced onto a single in-flight sweep; pushes for distinct entities
// run concurrently up to the worker bound, and the same entity is never
// pushed twice at once.
type Engine struct {
	repo    *db.Repository
	remote  RemoteService
	bus     *events.Bus
	workers int
	retry   RetrySink

	mu      sync.Mutex
	current *inflightSweep
	pushing map[models.UUID]struct{}
}

type inflightSweep struct {
	done   chan struct{}
	result *SyncResult
	err    error
}

// NewEngine creates a sync engine. bus may be nil when no UI is attached.
func NewEngine(repo *db.Repository, svc RemoteService, bus *events.Bus, workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		repo:    repo,
		remote:  svc,
		bus:     bus,
		workers: workers,
		pushing: make(map[models.UUID]struct{}),
	}
}

// SetRetrySink installs the backoff queue for transient failures.
func (e *Engine) SetRetrySink(sink RetrySink) {
	e.retry = sink
}

func (e *Engine) emit(typ events.EventType, data map[string]interface{}) {
	if e.bus != nil {
		e.bus.Emit(typ, data)
	}
}

// TriggerSync runs one push/pull pass over all pending entities. A call
// that arrives while a pass is draining joins it and receives that pass's
// result instead of starting an overlapping sweep.
func (e *Engine) TriggerSync(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.current != nil {
		call := e.current
		e.mu.Unlock()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightSweep{done: make(chan struct{})}
	e.current = call
	e.mu.Unlock()

	result, err := e.sweep(ctx)

	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
	call.result, call.err = result, err
	close(call.done)

	return result, err
}

// sweep pushes every pending entity, then pulls remote changes.
func (e *Engine) sweep(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	pending, err := e.repo.ListByStatus(models.StatusPending)
	if err != nil {
		return result, err
	}

	e.emit(events.SyncStarted, map[string]interface{}{"pending": len(pending)})

	var todos []*models.EntityRecord
	var singles []*models.EntityRecord
	for _, rec := range pending {
		if rec.Type == models.EntityTypeTodo {
			todos = append(todos, rec)
		} else {
			singles = append(singles, rec)
		}
	}

	var (
		resMu     sync.Mutex
		attempted int
		contacted bool
	)
	record := func(outcome pushOutcome) {
		resMu.Lock()
		defer resMu.Unlock()
		attempted++
		switch outcome.kind {
		case pushSynced:
			contacted = true
			result.Synced++
		case pushConflicted:
			contacted = true
			result.Conflicts++
		case pushRejected:
			contacted = true
			result.Failed++
			result.Rejections = append(result.Rejections, Rejection{
				EntityID: outcome.entityID, Reason: outcome.reason,
			})
		case pushTransient:
			result.Failed++
		}
	}

	total := len(pending)
	progress := func() {
		resMu.Lock()
		completed := attempted
		resMu.Unlock()
		e.emit(events.SyncProgress, map[string]interface{}{
			"completed": completed,
			"total":     total,
		})
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(e.workers)

	for _, rec := range singles {
		rec := rec
		if !e.claim(rec.ID) {
			continue
		}
		g.Go(func() error {
			defer e.release(rec.ID)
			record(e.pushOne(gctx, rec))
			progress()
			return nil
		})
	}

	// Todos go through the dedicated batch endpoint in one request.
	if len(todos) > 0 {
		batch := make([]*models.EntityRecord, 0, len(todos))
		for _, rec := range todos {
			if e.claim(rec.ID) {
				batch = append(batch, rec)
			}
		}
		if len(batch) > 0 {
			g.Go(func() error {
				defer func() {
					for _, rec := range batch {
						e.release(rec.ID)
					}
				}()
				for _, outcome := range e.pushTodoBatch(gctx, batch) {
					record(outcome)
					progress()
				}
				return nil
			})
		}
	}

	g.Wait()

	// Total network failure: nothing reached the server. Everything is
	// still pending; let the caller distinguish offline from failures.
	if attempted > 0 && !contacted {
		err := errors.New(errors.ErrSyncOffline, "entity service unreachable")
		e.emit(events.SyncFailed, map[string]interface{}{"error": err.Error()})
		return result, err
	}

	pulled, pullErr := e.PullSince(ctx)
	result.Pulled = pulled
	if pullErr != nil {
		logging.Warn("pull failed after push phase", map[string]interface{}{
			"error": pullErr.Error(),
		})
	}

	e.emit(events.SyncComplete, map[string]interface{}{
		"synced":    result.Synced,
		"failed":    result.Failed,
		"conflicts": result.Conflicts,
		"pulled":    result.Pulled,
	})

	return result, nil
}

func (e *Engine) claim(id models.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.pushing[id]; busy {
		return false
	}
	e.pushing[id] = struct{}{}
	return true
}

func (e *Engine) release(id models.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pushing, id)
}

type pushKind int

const (
	pushSynced pushKind = iota
	pushConflicted
	pushRejected
	pushTransient
)

type pushOutcome struct {
	kind     pushKind
	entityID models.UUID
	reason   string
}

// pushOne submits one entity against its believed base version and applies
// the outcome to the local store.
func (e *Engine) pushOne(ctx context.Context, rec *models.EntityRecord) pushOutcome {
	result, err := e.remote.PushEntity(ctx, rec.Type, remote.PushRequest{
		ID:          rec.ID,
		BaseVersion: rec.Version,
		Payload:     rec.Payload,
		Deleted:     rec.Deleted,
	})
	if err != nil {
		return e.pushFailed(rec, err)
	}
	return e.applyPushResult(rec, result)
}

// pushTodoBatch submits pending todos through POST /todos/sync and applies
// each per-item outcome exactly like an individual push.
func (e *Engine) pushTodoBatch(ctx context.Context, batch []*models.EntityRecord) []pushOutcome {
	req := remote.TodoSyncRequest{Items: make([]remote.PushRequest, len(batch))}
	byID := make(map[models.UUID]*models.EntityRecord, len(batch))
	for i, rec := range batch {
		req.Items[i] = remote.PushRequest{
			ID:          rec.ID,
			BaseVersion: rec.Version,
			Payload:     rec.Payload,
			Deleted:     rec.Deleted,
		}
		byID[rec.ID] = rec
	}

	resp, err := e.remote.SyncTodos(ctx, req)
	if err != nil {
		outcomes := make([]pushOutcome, 0, len(batch))
		for _, rec := range batch {
			outcomes = append(outcomes, e.pushFailed(rec, err))
		}
		return outcomes
	}

	outcomes := make([]pushOutcome, 0, len(resp.Results))
	for _, item := range resp.Results {
		rec, ok := byID[item.ID]
		if !ok {
			continue
		}
		outcomes = append(outcomes, e.applyPushResult(rec, &remote.PushResult{
			Outcome:      item.Outcome,
			Accepted:     item.Accepted,
			Conflict:     item.Conflict,
			RejectReason: item.Error,
		}))
	}
	return outcomes
}

func (e *Engine) pushFailed(rec *models.EntityRecord, err error) pushOutcome {
	if errors.IsTransient(err) {
		if e.retry != nil {
			if qerr := e.retry.EnqueuePush(rec.ID, rec.Type); qerr != nil {
				logging.Warn("retry enqueue failed", map[string]interface{}{
					"entity_id": rec.ID, "error": qerr.Error(),
				})
			}
		}
		return pushOutcome{kind: pushTransient, entityID: rec.ID}
	}
	logging.Error("push failed", err, map[string]interface{}{"entity_id": rec.ID})
	return pushOutcome{kind: pushRejected, entityID: rec.ID, reason: err.Error()}
}

func (e *Engine) applyPushResult(rec *models.EntityRecord, result *remote.PushResult) pushOutcome {
	switch result.Outcome {
	case remote.OutcomeAccepted:
		err := e.repo.SetEntityStatus(rec.ID, models.StatusPending, models.StatusSynced,
			result.Accepted.Version, result.Accepted.UpdatedAt)
		if err != nil {
			logging.Error("failed to mark entity synced", err, map[string]interface{}{
				"entity_id": rec.ID,
			})
			return pushOutcome{kind: pushRejected, entityID: rec.ID, reason: err.Error()}
		}
		return pushOutcome{kind: pushSynced, entityID: rec.ID}

	case remote.OutcomeConflict:
		if err := e.recordConflict(rec, result.Conflict); err != nil {
			logging.Error("failed to record conflict", err, map[string]interface{}{
				"entity_id": rec.ID,
			})
			return pushOutcome{kind: pushRejected, entityID: rec.ID, reason: err.Error()}
		}
		return pushOutcome{kind: pushConflicted, entityID: rec.ID}

	case remote.OutcomeRejected:
		logging.Warn("push rejected by validation", map[string]interface{}{
			"entity_id": rec.ID, "reason": result.RejectReason,
		})
		return pushOutcome{kind: pushRejected, entityID: rec.ID, reason: result.RejectReason}

	default:
		return pushOutcome{kind: pushRejected, entityID: rec.ID, reason: "unknown push outcome"}
	}
}

// recordConflict stores both snapshots and moves the entity to conflict.
// A second conflicting push for the same entity coalesces into the
// existing record.
func (e *Engine) recordConflict(rec *models.EntityRecord, conflict *remote.PushConflict) error {
	remoteRec := &models.EntityRecord{
		ID:         rec.ID,
		Type:       rec.Type,
		Version:    conflict.RemoteVersion,
		UpdatedAt:  conflict.RemoteUpdatedAt,
		SyncStatus: models.StatusSynced,
		Payload:    conflict.RemotePayload,
		Deleted:    conflict.RemoteDeleted,
	}

	saved, err := e.repo.SaveConflict(&models.ConflictRecord{
		EntityID:      rec.ID,
		EntityType:    rec.Type,
		LocalVersion:  rec.Clone(),
		RemoteVersion: remoteRec,
		DetectedAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	if err := e.repo.SetEntityStatus(rec.ID, models.StatusPending, models.StatusConflict,
		rec.Version, rec.UpdatedAt); err != nil {
		return err
	}

	e.emit(events.ConflictDetected, map[string]interface{}{
		"conflict_id":    saved.ID.String(),
		"entity_id":      rec.ID.String(),
		"entity_type":    string(rec.Type),
		"local_version":  rec.Version,
		"remote_version": conflict.RemoteVersion,
	})
	return nil
}

// PullSince fetches entities updated after the local high-water mark for
// every entity type. Entities with local pending or conflict state are
// left untouched. Returns how many records were applied.
func (e *Engine) PullSince(ctx context.Context) (int, error) {
	applied := 0
	for _, typ := range models.EntityTypes {
		mark, err := e.repo.HighWaterMark(typ)
		if err != nil {
			return applied, err
		}

		pull, err := e.remote.PullSince(ctx, typ, mark)
		if err != nil {
			return applied, err
		}

		newest := mark
		for _, entity := range pull.Entities {
			ok, err := e.repo.ApplyRemote(entity.Record(models.StatusSynced))
			if err != nil {
				return applied, err
			}
			if ok {
				applied++
			}
			if entity.UpdatedAt > newest {
				newest = entity.UpdatedAt
			}
		}

		if newest > mark {
			if err := e.repo.SetHighWaterMark(typ, newest); err != nil {
				return applied, err
			}
		}
	}
	return applied, nil
}

// RetryPush re-pushes a single entity from the retry queue. The entity
// must still be pending; anything else means the sweep or the user beat
// the retry to it.
func (e *Engine) RetryPush(ctx context.Context, id models.UUID) error {
	rec, err := e.repo.GetEntity(id)
	if err != nil {
		return err
	}
	if rec.SyncStatus != models.StatusPending {
		return nil
	}
	if !e.claim(rec.ID) {
		return nil
	}
	defer e.release(rec.ID)

	outcome := e.pushOne(ctx, rec)
	if outcome.kind == pushTransient {
		return errors.Newf(errors.ErrTransientNetwork, "retry push %s failed", id)
	}
	return nil
}
