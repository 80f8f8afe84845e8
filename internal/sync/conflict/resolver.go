// Package conflict implements user-driven resolution of version
// conflicts. Conflicts are never auto-merged: the engine records both
// snapshots and the user picks local, remote, or a merged result.
package conflict

import (
	"encoding/json"

	"github.com/plexa-app/plexa/internal/db"
	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/events"
	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/models"
)

// Resolver applies a user's chosen resolution to a recorded conflict.
type Resolver struct {
	repo *db.Repository
	bus  *events.Bus
}

// NewResolver creates a resolver. bus may be nil when no UI is attached.
func NewResolver(repo *db.Repository, bus *events.Bus) *Resolver {
	return &Resolver{repo: repo, bus: bus}
}

// List returns all unresolved conflicts, oldest first.
func (r *Resolver) List() ([]*models.ConflictRecord, error) {
	return r.repo.ListConflicts()
}

// Get returns one unresolved conflict by id.
func (r *Resolver) Get(id models.UUID) (*models.ConflictRecord, error) {
	return r.repo.GetConflict(id)
}

// GetForEntity returns the unresolved conflict for an entity, if any.
func (r *Resolver) GetForEntity(entityID models.UUID) (*models.ConflictRecord, error) {
	return r.repo.GetConflictByEntity(entityID)
}

// Active returns the conflict currently awaiting the user: the oldest
// unresolved one. Resolving it promotes the next oldest; nil when the
// registry is empty.
func (r *Resolver) Active() (*models.ConflictRecord, error) {
	list, err := r.repo.ListConflicts()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// Resolve applies the chosen resolution and removes the conflict record.
// Choosing local or merged stages a re-push against the remote version as
// the new base; choosing remote adopts the server state wholesale.
// merged requires a mergedPayload; the other choices reject one.
func (r *Resolver) Resolve(conflictID models.UUID, resolution models.Resolution, mergedPayload json.RawMessage) error {
	c, err := r.repo.GetConflict(conflictID)
	if err != nil {
		if errors.IsNotFound(err) {
			// Already resolved, or never existed.
			return errors.Newf(errors.ErrResolution, "conflict %s not found", conflictID)
		}
		return err
	}

	switch resolution {
	case models.ResolutionLocal:
		if len(mergedPayload) > 0 {
			return errors.New(errors.ErrResolution, "merged payload only valid with merged resolution")
		}
		err = r.repo.PrepareRepush(c.EntityID, c.LocalVersion.Payload, c.RemoteVersion.Version)

	case models.ResolutionMerged:
		if len(mergedPayload) == 0 {
			return errors.New(errors.ErrResolution, "merged resolution requires a merged payload")
		}
		if !json.Valid(mergedPayload) {
			return errors.New(errors.ErrResolution, "merged payload is not valid JSON")
		}
		err = r.repo.PrepareRepush(c.EntityID, mergedPayload, c.RemoteVersion.Version)

	case models.ResolutionRemote:
		if len(mergedPayload) > 0 {
			return errors.New(errors.ErrResolution, "merged payload only valid with merged resolution")
		}
		err = r.repo.AdoptRemote(c.RemoteVersion)

	default:
		return errors.Newf(errors.ErrResolution, "unknown resolution %q", resolution)
	}
	if err != nil {
		if errors.Code(err) == errors.ErrConstraint {
			// The entity left conflict state underneath us, likely a
			// concurrent resolution of the same conflict.
			return errors.Wrap(errors.ErrResolution, "entity no longer in conflict", err)
		}
		return err
	}

	if err := r.repo.DeleteConflict(c.ID); err != nil {
		return err
	}

	logging.Info("conflict resolved", map[string]interface{}{
		"conflict_id": c.ID.String(),
		"entity_id":   c.EntityID.String(),
		"entity_type": string(c.EntityType),
		"resolution":  string(resolution),
	})
	if r.bus != nil {
		r.bus.Emit(events.ConflictResolved, map[string]interface{}{
			"conflict_id": c.ID.String(),
			"entity_id":   c.EntityID.String(),
			"resolution":  string(resolution),
		})
	}
	return nil
}
