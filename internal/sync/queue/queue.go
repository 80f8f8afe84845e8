// Package queue holds entities whose push failed transiently until they
// are due for another attempt, with exponential backoff per entity.
package queue

import (
	"sync"
	"time"

	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/models"
)

// ItemStatus tracks where a retry item is in its lifecycle.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemExhausted  ItemStatus = "exhausted"
)

// Item is one entity awaiting a retry. The queue keys on entity id, so a
// second failure for the same entity updates the existing slot instead of
// queueing a duplicate push.
type Item struct {
	EntityID    models.UUID
	EntityType  models.EntityType
	RetryCount  int
	MaxRetries  int
	NextRetryAt int64 // unix seconds
	Status      ItemStatus
	LastError   string
	EnqueuedAt  int64
	UpdatedAt   int64
}

// RetryQueue is an in-memory retry schedule. Entities themselves stay in
// the local store with pending status; losing the queue on restart only
// loses the backoff timing, the next full sweep picks them up anyway.
type RetryQueue struct {
	mu         sync.RWMutex
	items      map[models.UUID]*Item
	maxSize    int
	maxRetries int
}

// NewRetryQueue creates a queue bounded at maxSize entities.
func NewRetryQueue(maxSize, maxRetries int) *RetryQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryQueue{
		items:      make(map[models.UUID]*Item),
		maxSize:    maxSize,
		maxRetries: maxRetries,
	}
}

// EnqueuePush schedules an entity for a retry push. An entity already in
// the queue keeps its slot and backoff position.
func (q *RetryQueue) EnqueuePush(entityID models.UUID, typ models.EntityType) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.items[entityID]; ok {
		if existing.Status == ItemInProgress {
			existing.Status = ItemPending
		}
		return nil
	}
	if len(q.items) >= q.maxSize {
		return errors.Newf(errors.ErrConstraint, "retry queue full (%d items)", q.maxSize)
	}

	now := time.Now().Unix()
	q.items[entityID] = &Item{
		EntityID:    entityID,
		EntityType:  typ,
		MaxRetries:  q.maxRetries,
		NextRetryAt: now + backoffSeconds(0),
		Status:      ItemPending,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}

	logging.Debug("entity queued for retry", map[string]interface{}{
		"entity_id":   entityID,
		"entity_type": string(typ),
	})
	return nil
}

// Due returns the items whose backoff has elapsed, marking each
// in-progress so concurrent drains do not double-push.
func (q *RetryQueue) Due() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().Unix()
	var due []*Item
	for _, item := range q.items {
		if item.Status == ItemPending && item.NextRetryAt <= now {
			item.Status = ItemInProgress
			item.UpdatedAt = now
			snapshot := *item
			due = append(due, &snapshot)
		}
	}
	return due
}

// Succeeded removes an entity after a successful retry (or any outcome
// that settled it, including a recorded conflict).
func (q *RetryQueue) Succeeded(entityID models.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, entityID)
}

// Failed records another transient failure and reschedules with a longer
// backoff. After max retries the item is parked as exhausted; the next
// full sweep still covers the entity, so nothing is lost.
func (q *RetryQueue) Failed(entityID models.UUID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[entityID]
	if !ok {
		return errors.Newf(errors.ErrNotFound, "retry item %s not found", entityID)
	}

	item.RetryCount++
	if cause != nil {
		item.LastError = cause.Error()
	}
	item.UpdatedAt = time.Now().Unix()

	if item.RetryCount >= item.MaxRetries {
		item.Status = ItemExhausted
		logging.Warn("retry budget exhausted", map[string]interface{}{
			"entity_id": entityID,
			"retries":   item.RetryCount,
			"error":     item.LastError,
		})
		return nil
	}

	item.NextRetryAt = time.Now().Unix() + backoffSeconds(item.RetryCount)
	item.Status = ItemPending
	return nil
}

// backoffSeconds is 2^n minutes capped at one hour.
func backoffSeconds(retryCount int) int64 {
	backoff := (int64(1) << uint(retryCount)) * 60
	if backoff > 3600 {
		backoff = 3600
	}
	return backoff
}

// Size returns how many entities are queued, exhausted items included.
func (q *RetryQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Reset makes every queued item due immediately with a fresh retry
// budget, for when connectivity returns after an outage.
func (q *RetryQueue) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().Unix()
	count := 0
	for _, item := range q.items {
		if item.Status == ItemInProgress {
			continue
		}
		item.Status = ItemPending
		item.RetryCount = 0
		item.NextRetryAt = now
		item.LastError = ""
		item.UpdatedAt = now
		count++
	}
	return count
}

// Clear drops everything, used on logout and in tests.
func (q *RetryQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make(map[models.UUID]*Item)
}

// Stats reports item counts by status.
func (q *RetryQueue) Stats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{"total": 0, "pending": 0, "in_progress": 0, "exhausted": 0}
	for _, item := range q.items {
		stats["total"]++
		switch item.Status {
		case ItemPending:
			stats["pending"]++
		case ItemInProgress:
			stats["in_progress"]++
		case ItemExhausted:
			stats["exhausted"]++
		}
	}
	return stats
}
