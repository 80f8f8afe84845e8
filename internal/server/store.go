// Package server implements the remote entity service: the authority
// for entity versions, the pull feed, accounts, and the presence hub.
package server

import (
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/models"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS entities (
    id          TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL CHECK (entity_type IN ('note', 'person', 'todo')),
    version     INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    payload     TEXT NOT NULL,
    is_deleted  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entities_type_updated ON entities(entity_type, updated_at);

CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    name          TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at    INTEGER NOT NULL
);
`

// Store is the server-side entity database. Version numbers are only
// ever assigned here; pushes succeed or fail on an atomic base-version
// check inside a transaction.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database and ensures the schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(storeSchema); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "initialize server schema", err)
	}
	return &Store{db: db}, nil
}

// ServerEntity is an entity row as the server holds it.
type ServerEntity struct {
	ID        models.UUID
	Type      models.EntityType
	Version   int64
	UpdatedAt int64
	Payload   []byte
	Deleted   bool
}

// PushDecision is the outcome of a compare-and-swap push.
type PushDecision struct {
	Accepted bool
	// On acceptance, the newly assigned version and timestamp.
	Version   int64
	UpdatedAt int64
	// On rejection, the authoritative current row.
	Current *ServerEntity
}

// CreateEntity inserts a brand-new entity at version 1.
func (s *Store) CreateEntity(typ models.EntityType, id models.UUID, payload []byte) (*ServerEntity, error) {
	if id == "" {
		id = models.UUID(uuid.New().String())
	}
	now := time.Now().UnixMilli()

	_, err := s.db.Exec(
		"INSERT INTO entities (id, entity_type, version, updated_at, payload, is_deleted) VALUES (?, ?, 1, ?, ?, 0)",
		id, typ, now, string(payload))
	if err != nil {
		return nil, errors.Wrap(errors.ErrConstraint, "create entity", err)
	}
	return &ServerEntity{ID: id, Type: typ, Version: 1, UpdatedAt: now, Payload: payload}, nil
}

// Push applies one optimistic-concurrency write. The base version must
// match the stored version exactly; a base of zero creates the entity.
// The check and the increment happen in one transaction so two racing
// pushes against the same base can never both win.
func (s *Store) Push(typ models.EntityType, id models.UUID, baseVersion int64, payload []byte, deleted bool) (*PushDecision, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "begin push", err)
	}
	defer tx.Rollback()

	current, err := scanServerEntity(tx.QueryRow(
		"SELECT id, entity_type, version, updated_at, payload, is_deleted FROM entities WHERE id = ?", id))
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		if baseVersion != 0 {
			// The client believes a version the server never issued.
			return &PushDecision{Current: nil, Accepted: false}, tx.Commit()
		}
		now := time.Now().UnixMilli()
		if _, err := tx.Exec(
			"INSERT INTO entities (id, entity_type, version, updated_at, payload, is_deleted) VALUES (?, ?, 1, ?, ?, ?)",
			id, typ, now, string(payload), boolToInt(deleted)); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "insert entity", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "commit push", err)
		}
		return &PushDecision{Accepted: true, Version: 1, UpdatedAt: now}, nil

	case err != nil:
		return nil, errors.Wrap(errors.ErrStorage, "read entity", err)
	}

	if current.Version != baseVersion {
		if err := tx.Commit(); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "commit push", err)
		}
		return &PushDecision{Accepted: false, Current: current}, nil
	}

	now := time.Now().UnixMilli()
	next := current.Version + 1
	res, err := tx.Exec(
		"UPDATE entities SET version = ?, updated_at = ?, payload = ?, is_deleted = ? WHERE id = ? AND version = ?",
		next, now, string(payload), boolToInt(deleted), id, baseVersion)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "update entity", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, errors.Newf(errors.ErrStorage, "push lost update race for %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "commit push", err)
	}
	return &PushDecision{Accepted: true, Version: next, UpdatedAt: now}, nil
}

// GetEntity returns one row.
func (s *Store) GetEntity(id models.UUID) (*ServerEntity, error) {
	e, err := scanServerEntity(s.db.QueryRow(
		"SELECT id, entity_type, version, updated_at, payload, is_deleted FROM entities WHERE id = ?", id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "entity %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "get entity", err)
	}
	return e, nil
}

// ListSince returns entities of a type updated strictly after the given
// timestamp, soft-deleted rows included so clients can tombstone them.
func (s *Store) ListSince(typ models.EntityType, since int64) ([]*ServerEntity, error) {
	rows, err := s.db.Query(
		"SELECT id, entity_type, version, updated_at, payload, is_deleted FROM entities WHERE entity_type = ? AND updated_at > ? ORDER BY updated_at ASC",
		typ, since)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "list entities", err)
	}
	defer rows.Close()

	var out []*ServerEntity
	for rows.Next() {
		e, err := scanServerEntity(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan entity", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// User is an account row.
type User struct {
	ID           models.UUID
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    int64
}

// CreateUser inserts an account. Duplicate emails are a constraint error.
func (s *Store) CreateUser(email, name, passwordHash string) (*User, error) {
	u := &User{
		ID:           models.UUID(uuid.New().String()),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UnixMilli(),
	}
	_, err := s.db.Exec(
		"INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConstraint, "create user", err)
	}
	return u, nil
}

// GetUserByEmail looks an account up for login.
func (s *Store) GetUserByEmail(email string) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(
		"SELECT id, email, name, password_hash, created_at FROM users WHERE email = ?", email).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "user %s not found", email)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "get user", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanServerEntity(row rowScanner) (*ServerEntity, error) {
	e := &ServerEntity{}
	var payload string
	var deleted int
	if err := row.Scan(&e.ID, &e.Type, &e.Version, &e.UpdatedAt, &payload, &deleted); err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	e.Deleted = deleted != 0
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
