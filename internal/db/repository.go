// Package db provides the local entity store for syncable records.
package db

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/models"
)

// Repository provides entity cache, conflict and version history storage.
// The UI layer and the sync engine both go through it, so all status
// transitions are applied atomically with the entity's other fields.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Entity cache operations
// =====================================================

const entityColumns = "id, entity_type, version, updated_at, sync_status, payload, is_deleted"

func scanEntity(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.EntityRecord, error) {
	var rec models.EntityRecord
	var payload string
	err := scanner.Scan(&rec.ID, &rec.Type, &rec.Version, &rec.UpdatedAt,
		&rec.SyncStatus, &payload, &rec.Deleted)
	if err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

// GetEntity retrieves a cached entity by id.
func (r *Repository) GetEntity(id models.UUID) (*models.EntityRecord, error) {
	query := "SELECT " + entityColumns + " FROM entities WHERE id = ?"
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "prepare get entity", err)
	}

	rec, err := scanEntity(stmt.QueryRow(id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "entity %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "get entity", err)
	}
	return rec, nil
}

// ListEntities returns all cached entities of one type, deleted included.
func (r *Repository) ListEntities(typ models.EntityType) ([]*models.EntityRecord, error) {
	query := "SELECT " + entityColumns + " FROM entities WHERE entity_type = ? ORDER BY updated_at DESC"
	rows, err := r.db.Query(query, typ)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list entities", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// ListByStatus returns all cached entities with the given sync status,
// across entity types.
func (r *Repository) ListByStatus(status models.SyncStatus) ([]*models.EntityRecord, error) {
	query := "SELECT " + entityColumns + " FROM entities WHERE sync_status = ? ORDER BY updated_at ASC"
	rows, err := r.db.Query(query, status)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list by status", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

func collectEntities(rows *sql.Rows) ([]*models.EntityRecord, error) {
	var out []*models.EntityRecord
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan entity", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "iterate entities", err)
	}
	return out, nil
}

// SaveLocal writes a local mutation: the payload is stored and the entity
// is marked pending. For an existing record the status transition is
// validated against the state machine; a brand new record starts pending
// (it has never been pushed).
func (r *Repository) SaveLocal(rec *models.EntityRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "begin save", err)
	}
	defer tx.Rollback()

	existing, err := scanEntity(tx.QueryRow(
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", rec.ID))
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		// new entity, no transition to validate
	case err != nil:
		return errors.Wrap(errors.ErrStorage, "read current entity", err)
	default:
		if terr := models.Transition(existing.SyncStatus, models.StatusPending); terr != nil {
			return errors.Wrap(errors.ErrInvalid, "save local", terr)
		}
		// local state keeps its version until the server assigns a new one
		rec.Version = existing.Version
	}

	_, err = tx.Exec(`
		INSERT INTO entities (id, entity_type, version, updated_at, sync_status, payload, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status,
			payload = excluded.payload,
			is_deleted = excluded.is_deleted`,
		rec.ID, rec.Type, rec.Version, rec.UpdatedAt, models.StatusPending,
		string(rec.Payload), rec.Deleted)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "save local entity", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrStorage, "commit save", err)
	}
	rec.SyncStatus = models.StatusPending
	return nil
}

// SetEntityStatus transitions an entity's sync status, optionally adopting
// a new version and server timestamp in the same statement so a reader can
// never observe a synced status paired with a stale version. The update is
// guarded on the expected current status; a concurrent change makes it
// fail with a constraint error.
func (r *Repository) SetEntityStatus(id models.UUID, from, to models.SyncStatus, version, updatedAt int64) error {
	if err := models.Transition(from, to); err != nil {
		return errors.Wrap(errors.ErrInvalid, "set entity status", err)
	}

	res, err := r.db.Exec(`
		UPDATE entities SET sync_status = ?, version = ?, updated_at = ?
		WHERE id = ? AND sync_status = ?`,
		to, version, updatedAt, id, from)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "update entity status", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "rows affected", err)
	}
	if affected == 0 {
		return errors.Newf(errors.ErrConstraint,
			"entity %s not in status %s (concurrent change?)", id, from)
	}
	return nil
}

// ApplyRemote upserts a server-side record as synced. Entities with a
// local pending or conflict record are left untouched: local state takes
// precedence until the pending push completes or the conflict is resolved.
// Returns true when the record was applied.
func (r *Repository) ApplyRemote(rec *models.EntityRecord) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, errors.Wrap(errors.ErrStorage, "begin apply", err)
	}
	defer tx.Rollback()

	existing, err := scanEntity(tx.QueryRow(
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", rec.ID))
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return false, errors.Wrap(errors.ErrStorage, "read current entity", err)
	}
	if existing != nil && existing.SyncStatus != models.StatusSynced {
		return false, nil
	}

	_, err = tx.Exec(`
		INSERT INTO entities (id, entity_type, version, updated_at, sync_status, payload, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status,
			payload = excluded.payload,
			is_deleted = excluded.is_deleted`,
		rec.ID, rec.Type, rec.Version, rec.UpdatedAt, models.StatusSynced,
		string(rec.Payload), rec.Deleted)
	if err != nil {
		return false, errors.Wrap(errors.ErrStorage, "apply remote entity", err)
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(errors.ErrStorage, "commit apply", err)
	}
	return true, nil
}

// AdoptRemote overwrites the local entity wholesale with a remote snapshot
// and marks it synced. Used by conflict resolution with the remote choice;
// the conflict -> synced transition is validated.
func (r *Repository) AdoptRemote(rec *models.EntityRecord) error {
	current, err := r.GetEntity(rec.ID)
	if err != nil {
		return err
	}
	if terr := models.Transition(current.SyncStatus, models.StatusSynced); terr != nil {
		return errors.Wrap(errors.ErrInvalid, "adopt remote", terr)
	}

	_, err = r.db.Exec(`
		UPDATE entities SET version = ?, updated_at = ?, sync_status = ?, payload = ?, is_deleted = ?
		WHERE id = ?`,
		rec.Version, rec.UpdatedAt, models.StatusSynced, string(rec.Payload), rec.Deleted, rec.ID)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "adopt remote entity", err)
	}
	return nil
}

// PrepareRepush rewrites a conflicted entity for re-submission: the chosen
// payload becomes current, the remote version becomes the new base, and
// the status moves conflict -> pending so the next sync pass pushes it.
func (r *Repository) PrepareRepush(id models.UUID, payload []byte, baseVersion int64) error {
	res, err := r.db.Exec(`
		UPDATE entities SET payload = ?, version = ?, sync_status = ?, updated_at = ?
		WHERE id = ? AND sync_status = ?`,
		string(payload), baseVersion, models.StatusPending, time.Now().UnixMilli(),
		id, models.StatusConflict)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "prepare repush", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "rows affected", err)
	}
	if affected == 0 {
		return errors.Newf(errors.ErrConstraint, "entity %s is not in conflict", id)
	}
	return nil
}

// =====================================================
// Pull high-water marks
// =====================================================

// HighWaterMark returns the newest server timestamp seen in a pull for
// the given entity type, zero when no pull has happened.
func (r *Repository) HighWaterMark(typ models.EntityType) (int64, error) {
	var mark int64
	err := r.db.QueryRow(
		"SELECT COALESCE(MAX(high_water), 0) FROM sync_marks WHERE entity_type = ?", typ).Scan(&mark)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "read high-water mark", err)
	}
	return mark, nil
}

// SetHighWaterMark advances the pull mark for an entity type. It never
// moves backwards.
func (r *Repository) SetHighWaterMark(typ models.EntityType, ts int64) error {
	_, err := r.db.Exec(`
		INSERT INTO sync_marks (entity_type, high_water) VALUES (?, ?)
		ON CONFLICT(entity_type) DO UPDATE SET high_water = MAX(high_water, excluded.high_water)`,
		typ, ts)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "set high-water mark", err)
	}
	return nil
}

// =====================================================
// Conflict records
// =====================================================

// SaveConflict stores a conflict record, coalescing on entity id: when an
// unresolved conflict already exists for the entity, its remote snapshot
// and detection time are refreshed and the original conflict id is kept.
// The stored record (with its effective id) is returned.
func (r *Repository) SaveConflict(c *models.ConflictRecord) (*models.ConflictRecord, error) {
	localJSON, err := json.Marshal(c.LocalVersion)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "marshal local snapshot", err)
	}
	remoteJSON, err := json.Marshal(c.RemoteVersion)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "marshal remote snapshot", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "begin save conflict", err)
	}
	defer tx.Rollback()

	var existingID models.UUID
	err = tx.QueryRow("SELECT id FROM conflicts WHERE entity_id = ?", c.EntityID).Scan(&existingID)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		if c.ID == "" {
			c.ID = models.UUID(uuid.New().String())
		}
		_, err = tx.Exec(`
			INSERT INTO conflicts (id, entity_id, entity_type, local_snapshot, remote_snapshot, detected_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.EntityID, c.EntityType, string(localJSON), string(remoteJSON), c.DetectedAt)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "insert conflict", err)
		}
	case err != nil:
		return nil, errors.Wrap(errors.ErrStorage, "lookup conflict", err)
	default:
		c.ID = existingID
		_, err = tx.Exec(`
			UPDATE conflicts SET remote_snapshot = ?, detected_at = ? WHERE id = ?`,
			string(remoteJSON), c.DetectedAt, existingID)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "refresh conflict", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "commit save conflict", err)
	}
	return c, nil
}

func scanConflict(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.ConflictRecord, error) {
	var c models.ConflictRecord
	var localJSON, remoteJSON string
	if err := scanner.Scan(&c.ID, &c.EntityID, &c.EntityType, &localJSON, &remoteJSON, &c.DetectedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(localJSON), &c.LocalVersion); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(remoteJSON), &c.RemoteVersion); err != nil {
		return nil, err
	}
	return &c, nil
}

const conflictColumns = "id, entity_id, entity_type, local_snapshot, remote_snapshot, detected_at"

// GetConflict retrieves an unresolved conflict by id.
func (r *Repository) GetConflict(id models.UUID) (*models.ConflictRecord, error) {
	c, err := scanConflict(r.db.QueryRow(
		"SELECT "+conflictColumns+" FROM conflicts WHERE id = ?", id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "conflict %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "get conflict", err)
	}
	return c, nil
}

// GetConflictByEntity retrieves the unresolved conflict for an entity.
func (r *Repository) GetConflictByEntity(entityID models.UUID) (*models.ConflictRecord, error) {
	c, err := scanConflict(r.db.QueryRow(
		"SELECT "+conflictColumns+" FROM conflicts WHERE entity_id = ?", entityID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "no conflict for entity %s", entityID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "get conflict by entity", err)
	}
	return c, nil
}

// ListConflicts returns all unresolved conflicts, oldest first.
func (r *Repository) ListConflicts() ([]*models.ConflictRecord, error) {
	rows, err := r.db.Query("SELECT " + conflictColumns + " FROM conflicts ORDER BY detected_at ASC, rowid ASC")
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list conflicts", err)
	}
	defer rows.Close()

	var out []*models.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan conflict", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "iterate conflicts", err)
	}
	return out, nil
}

// DeleteConflict removes a conflict record after resolution.
func (r *Repository) DeleteConflict(id models.UUID) error {
	res, err := r.db.Exec("DELETE FROM conflicts WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "delete conflict", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "rows affected", err)
	}
	if affected == 0 {
		return errors.Newf(errors.ErrNotFound, "conflict %s not found", id)
	}
	return nil
}

// =====================================================
// Note version history
// =====================================================

// InsertNoteVersion appends an immutable history snapshot.
func (r *Repository) InsertNoteVersion(v *models.NoteVersion) error {
	if v.ID == "" {
		v.ID = models.UUID(uuid.New().String())
	}
	if v.CreatedAt == 0 {
		v.CreatedAt = time.Now().UnixMilli()
	}

	_, err := r.db.Exec(`
		INSERT INTO note_versions (id, note_id, version, title, content, author_id, author_name, change_description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.NoteID, v.Version, v.Title, v.Content,
		v.AuthorID, v.AuthorName, v.ChangeDescription, v.CreatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "insert note version", err)
	}
	return nil
}

const versionColumns = "id, note_id, version, title, content, author_id, author_name, change_description, created_at"

func scanNoteVersion(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.NoteVersion, error) {
	var v models.NoteVersion
	err := scanner.Scan(&v.ID, &v.NoteID, &v.Version, &v.Title, &v.Content,
		&v.AuthorID, &v.AuthorName, &v.ChangeDescription, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListNoteVersions returns the history of a note, most recent first.
func (r *Repository) ListNoteVersions(noteID models.UUID) ([]*models.NoteVersion, error) {
	rows, err := r.db.Query(
		"SELECT "+versionColumns+" FROM note_versions WHERE note_id = ? ORDER BY version DESC", noteID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list note versions", err)
	}
	defer rows.Close()

	var out []*models.NoteVersion
	for rows.Next() {
		v, err := scanNoteVersion(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan note version", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "iterate note versions", err)
	}
	return out, nil
}

// GetNoteVersion retrieves one historical snapshot.
func (r *Repository) GetNoteVersion(noteID models.UUID, version int64) (*models.NoteVersion, error) {
	v, err := scanNoteVersion(r.db.QueryRow(
		"SELECT "+versionColumns+" FROM note_versions WHERE note_id = ? AND version = ?", noteID, version))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "note %s has no version %d", noteID, version)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "get note version", err)
	}
	return v, nil
}

// NextNoteVersionNumber returns one past the highest recorded version for
// a note, starting at 1.
func (r *Repository) NextNoteVersionNumber(noteID models.UUID) (int64, error) {
	var max int64
	err := r.db.QueryRow(
		"SELECT COALESCE(MAX(version), 0) FROM note_versions WHERE note_id = ?", noteID).Scan(&max)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "read max version", err)
	}
	return max + 1, nil
}

// =====================================================
// Cache maintenance
// =====================================================

// ClearCache drops all locally cached state. Used on logout.
func (r *Repository) ClearCache() error {
	for _, table := range []string{"entities", "conflicts", "note_versions", "sync_marks"} {
		if _, err := r.db.Exec("DELETE FROM " + table); err != nil {
			return errors.Wrap(errors.ErrStorage, "clear "+table, err)
		}
	}
	return nil
}

// CleanupCache purges soft-deleted entities that have already synced.
// Pending or conflicted deletions are kept until the server acknowledges
// them.
func (r *Repository) CleanupCache() (int64, error) {
	res, err := r.db.Exec(
		"DELETE FROM entities WHERE is_deleted = 1 AND sync_status = ?", models.StatusSynced)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "cleanup cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "rows affected", err)
	}
	return n, nil
}
