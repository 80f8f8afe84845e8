// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered embedded schema. Append only; never edit an
// applied migration in place.
var migrations = []Migration{
	{
		Version:     1,
		Description: "entity cache",
		SQL: `
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL CHECK(entity_type IN ('note','person','todo')),
			version INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0,
			sync_status TEXT NOT NULL CHECK(sync_status IN ('synced','pending','conflict')),
			payload TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(sync_status);
		CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);`,
	},
	{
		Version:     2,
		Description: "conflict records",
		SQL: `
		CREATE TABLE IF NOT EXISTS conflicts (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL UNIQUE,
			entity_type TEXT NOT NULL,
			local_snapshot TEXT NOT NULL,
			remote_snapshot TEXT NOT NULL,
			detected_at INTEGER NOT NULL
		);`,
	},
	{
		Version:     3,
		Description: "note version history",
		SQL: `
		CREATE TABLE IF NOT EXISTS note_versions (
			id TEXT PRIMARY KEY,
			note_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			author_id TEXT NOT NULL DEFAULT '',
			author_name TEXT NOT NULL DEFAULT '',
			change_description TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			UNIQUE(note_id, version)
		);
		CREATE INDEX IF NOT EXISTS idx_note_versions_note ON note_versions(note_id);`,
	},
	{
		Version:     4,
		Description: "pull high-water marks",
		SQL: `
		CREATE TABLE IF NOT EXISTS sync_marks (
			entity_type TEXT PRIMARY KEY,
			high_water INTEGER NOT NULL DEFAULT 0
		);`,
	},
}

// Migrator applies embedded schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL,
		description TEXT NOT NULL
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Up applies all pending migrations in order, each in its own transaction.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(mig.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			mig.Version, time.Now().Unix(), mig.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
