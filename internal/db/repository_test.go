// Package db tests for the entity store.
package db

import (
	"testing"

	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	database, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	return NewRepository(database.DB)
}

func testNote(id models.UUID) *models.EntityRecord {
	return &models.EntityRecord{
		ID:         id,
		Type:       models.EntityTypeNote,
		Version:    0,
		SyncStatus: models.StatusPending,
		Payload:    []byte(`{"title":"t","content":"c"}`),
	}
}

// TestSaveLocalNewEntity verifies creation marks the entity pending.
func TestSaveLocalNewEntity(t *testing.T) {
	repo := newTestRepo(t)

	rec := testNote("note-1")
	if err := repo.SaveLocal(rec); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}

	got, err := repo.GetEntity("note-1")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if got.SyncStatus != models.StatusPending {
		t.Errorf("status = %s, want pending", got.SyncStatus)
	}
}

// TestSaveLocalKeepsVersion verifies a local mutation does not change the
// locally held version (the server assigns versions).
func TestSaveLocalKeepsVersion(t *testing.T) {
	repo := newTestRepo(t)

	rec := testNote("note-1")
	rec.Version = 3
	rec.SyncStatus = models.StatusSynced
	if _, err := repo.ApplyRemote(rec); err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}

	update := testNote("note-1")
	update.Version = 99 // caller-supplied versions are ignored
	if err := repo.SaveLocal(update); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}

	got, _ := repo.GetEntity("note-1")
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}
	if got.SyncStatus != models.StatusPending {
		t.Errorf("status = %s, want pending", got.SyncStatus)
	}
}

// TestGetEntityNotFound verifies the not-found code.
func TestGetEntityNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetEntity("ghost")
	if !errors.IsNotFound(err) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

// TestSetEntityStatus verifies the atomic status+version update and the
// guard against concurrent changes.
func TestSetEntityStatus(t *testing.T) {
	repo := newTestRepo(t)

	rec := testNote("note-1")
	if err := repo.SaveLocal(rec); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}

	// pending -> synced with the server-assigned version
	if err := repo.SetEntityStatus("note-1", models.StatusPending, models.StatusSynced, 4, 5000); err != nil {
		t.Fatalf("SetEntityStatus() error = %v", err)
	}

	got, _ := repo.GetEntity("note-1")
	if got.SyncStatus != models.StatusSynced || got.Version != 4 || got.UpdatedAt != 5000 {
		t.Errorf("got status=%s version=%d updated=%d, want synced/4/5000",
			got.SyncStatus, got.Version, got.UpdatedAt)
	}

	// Guarded update: the entity is no longer pending
	err := repo.SetEntityStatus("note-1", models.StatusPending, models.StatusSynced, 5, 6000)
	if !errors.Is(err, errors.ErrConstraint) {
		t.Errorf("err = %v, want CONSTRAINT_VIOLATION", err)
	}

	// Illegal transition rejected before touching the database
	err = repo.SetEntityStatus("note-1", models.StatusSynced, models.StatusConflict, 5, 6000)
	if !errors.Is(err, errors.ErrInvalid) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

// TestApplyRemoteSkipsPending verifies local pending state takes
// precedence over pulled records.
func TestApplyRemoteSkipsPending(t *testing.T) {
	repo := newTestRepo(t)

	local := testNote("note-1")
	if err := repo.SaveLocal(local); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}

	remote := testNote("note-1")
	remote.Version = 7
	remote.Payload = []byte(`{"title":"server"}`)

	applied, err := repo.ApplyRemote(remote)
	if err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}
	if applied {
		t.Error("ApplyRemote should skip entities with local pending state")
	}

	got, _ := repo.GetEntity("note-1")
	if got.SyncStatus != models.StatusPending {
		t.Errorf("status = %s, want pending untouched", got.SyncStatus)
	}
}

// TestApplyRemoteUpsertsClean verifies clean entities are upserted synced.
func TestApplyRemoteUpsertsClean(t *testing.T) {
	repo := newTestRepo(t)

	remote := testNote("note-1")
	remote.Version = 2

	applied, err := repo.ApplyRemote(remote)
	if err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}
	if !applied {
		t.Fatal("ApplyRemote should apply a brand new record")
	}

	got, _ := repo.GetEntity("note-1")
	if got.SyncStatus != models.StatusSynced || got.Version != 2 {
		t.Errorf("got status=%s version=%d, want synced/2", got.SyncStatus, got.Version)
	}

	// A newer remote record replaces a synced one.
	remote.Version = 3
	applied, err = repo.ApplyRemote(remote)
	if err != nil || !applied {
		t.Fatalf("ApplyRemote(newer) = %v, %v", applied, err)
	}
}

// TestConflictCoalescing verifies at most one conflict per entity id.
func TestConflictCoalescing(t *testing.T) {
	repo := newTestRepo(t)

	local := testNote("note-1")
	remote := testNote("note-1")
	remote.Version = 5

	first, err := repo.SaveConflict(&models.ConflictRecord{
		EntityID:      "note-1",
		EntityType:    models.EntityTypeNote,
		LocalVersion:  local,
		RemoteVersion: remote,
		DetectedAt:    1000,
	})
	if err != nil {
		t.Fatalf("SaveConflict() error = %v", err)
	}

	newerRemote := testNote("note-1")
	newerRemote.Version = 6
	second, err := repo.SaveConflict(&models.ConflictRecord{
		EntityID:      "note-1",
		EntityType:    models.EntityTypeNote,
		LocalVersion:  local,
		RemoteVersion: newerRemote,
		DetectedAt:    2000,
	})
	if err != nil {
		t.Fatalf("SaveConflict(coalesce) error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("coalesced conflict id = %s, want original %s", second.ID, first.ID)
	}

	all, err := repo.ListConflicts()
	if err != nil {
		t.Fatalf("ListConflicts() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(all))
	}
	if all[0].RemoteVersion.Version != 6 {
		t.Errorf("remote snapshot version = %d, want refreshed 6", all[0].RemoteVersion.Version)
	}
	if all[0].DetectedAt != 2000 {
		t.Errorf("detected_at = %d, want refreshed 2000", all[0].DetectedAt)
	}
}

// TestDeleteConflict verifies removal and the not-found path.
func TestDeleteConflict(t *testing.T) {
	repo := newTestRepo(t)

	c, err := repo.SaveConflict(&models.ConflictRecord{
		EntityID:      "note-1",
		EntityType:    models.EntityTypeNote,
		LocalVersion:  testNote("note-1"),
		RemoteVersion: testNote("note-1"),
		DetectedAt:    1000,
	})
	if err != nil {
		t.Fatalf("SaveConflict() error = %v", err)
	}

	if err := repo.DeleteConflict(c.ID); err != nil {
		t.Fatalf("DeleteConflict() error = %v", err)
	}
	if err := repo.DeleteConflict(c.ID); !errors.IsNotFound(err) {
		t.Errorf("second delete err = %v, want NOT_FOUND", err)
	}
}

// TestNoteVersionHistory verifies append ordering and lookups.
func TestNoteVersionHistory(t *testing.T) {
	repo := newTestRepo(t)

	for i := int64(1); i <= 3; i++ {
		next, err := repo.NextNoteVersionNumber("note-1")
		if err != nil {
			t.Fatalf("NextNoteVersionNumber() error = %v", err)
		}
		if next != i {
			t.Fatalf("next version = %d, want %d", next, i)
		}
		err = repo.InsertNoteVersion(&models.NoteVersion{
			NoteID:  "note-1",
			Version: next,
			Title:   "t",
			Content: "c",
		})
		if err != nil {
			t.Fatalf("InsertNoteVersion() error = %v", err)
		}
	}

	versions, err := repo.ListNoteVersions("note-1")
	if err != nil {
		t.Fatalf("ListNoteVersions() error = %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("versions = %d, want 3", len(versions))
	}
	if versions[0].Version != 3 {
		t.Errorf("first version = %d, want most recent 3", versions[0].Version)
	}

	if _, err := repo.GetNoteVersion("note-1", 2); err != nil {
		t.Errorf("GetNoteVersion(2) error = %v", err)
	}
	if _, err := repo.GetNoteVersion("note-1", 9); !errors.IsNotFound(err) {
		t.Errorf("GetNoteVersion(9) err = %v, want NOT_FOUND", err)
	}
}

// TestHighWaterMark verifies the mark never moves backwards.
func TestHighWaterMark(t *testing.T) {
	repo := newTestRepo(t)

	mark, err := repo.HighWaterMark(models.EntityTypeNote)
	if err != nil || mark != 0 {
		t.Fatalf("initial mark = %d, %v, want 0, nil", mark, err)
	}

	if err := repo.SetHighWaterMark(models.EntityTypeNote, 5000); err != nil {
		t.Fatalf("SetHighWaterMark() error = %v", err)
	}
	if err := repo.SetHighWaterMark(models.EntityTypeNote, 3000); err != nil {
		t.Fatalf("SetHighWaterMark(older) error = %v", err)
	}

	mark, _ = repo.HighWaterMark(models.EntityTypeNote)
	if mark != 5000 {
		t.Errorf("mark = %d, want 5000 (no backwards movement)", mark)
	}
}

// TestCleanupCache verifies only synced soft-deletes are purged.
func TestCleanupCache(t *testing.T) {
	repo := newTestRepo(t)

	deletedSynced := testNote("note-1")
	deletedSynced.Deleted = true
	if _, err := repo.ApplyRemote(deletedSynced); err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}

	deletedPending := testNote("note-2")
	deletedPending.Deleted = true
	if err := repo.SaveLocal(deletedPending); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}

	purged, err := repo.CleanupCache()
	if err != nil {
		t.Fatalf("CleanupCache() error = %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if _, err := repo.GetEntity("note-2"); err != nil {
		t.Error("pending deletion must survive cleanup until acknowledged")
	}
}

// TestClearCache verifies a full reset.
func TestClearCache(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.SaveLocal(testNote("note-1")); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}
	if err := repo.ClearCache(); err != nil {
		t.Fatalf("ClearCache() error = %v", err)
	}
	if _, err := repo.GetEntity("note-1"); !errors.IsNotFound(err) {
		t.Errorf("after clear, err = %v, want NOT_FOUND", err)
	}
}
