package conflict

import (
	"testing"
	"time"

	"github.com/plexa-app/plexa/internal/db"
	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/models"
)

func newTestResolver(t *testing.T) (*Resolver, *db.Repository) {
	t.Helper()

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	repo := db.NewRepository(database.DB)
	return NewResolver(repo, nil), repo
}

// seedConflict stores a conflicted note with local payload at version 1
// and remote payload at version 4, returning the conflict record.
func seedConflict(t *testing.T, repo *db.Repository, entityID models.UUID) *models.ConflictRecord {
	t.Helper()

	local := &models.EntityRecord{
		ID:         entityID,
		Type:       models.EntityTypeNote,
		Version:    1,
		SyncStatus: models.StatusPending,
		Payload:    []byte(`{"title":"mine","content":"local"}`),
	}
	if err := repo.SaveLocal(local); err != nil {
		t.Fatalf("SaveLocal() error = %v", err)
	}

	remote := &models.EntityRecord{
		ID:         entityID,
		Type:       models.EntityTypeNote,
		Version:    4,
		UpdatedAt:  time.Now().UnixMilli(),
		SyncStatus: models.StatusSynced,
		Payload:    []byte(`{"title":"theirs","content":"remote"}`),
	}

	saved, err := repo.SaveConflict(&models.ConflictRecord{
		EntityID:      entityID,
		EntityType:    models.EntityTypeNote,
		LocalVersion:  local,
		RemoteVersion: remote,
		DetectedAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("SaveConflict() error = %v", err)
	}

	if err := repo.SetEntityStatus(entityID, models.StatusPending, models.StatusConflict, 1, local.UpdatedAt); err != nil {
		t.Fatalf("SetEntityStatus() error = %v", err)
	}
	return saved
}

// TestResolveLocal verifies keeping the local version stages a re-push
// against the remote version as the new base.
func TestResolveLocal(t *testing.T) {
	resolver, repo := newTestResolver(t)
	c := seedConflict(t, repo, "note-1")

	if err := resolver.Resolve(c.ID, models.ResolutionLocal, nil); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	got, err := repo.GetEntity("note-1")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if got.SyncStatus != models.StatusPending {
		t.Errorf("status = %s, want pending", got.SyncStatus)
	}
	if got.Version != 4 {
		t.Errorf("base version = %d, want 4 (remote version)", got.Version)
	}
	if string(got.Payload) != `{"title":"mine","content":"local"}` {
		t.Errorf("payload = %s, want local payload", got.Payload)
	}

	if _, err := repo.GetConflict(c.ID); !errors.IsNotFound(err) {
		t.Errorf("conflict still present, err = %v", err)
	}
}

// TestResolveRemote verifies adopting the server state marks the entity
// synced at the remote version.
func TestResolveRemote(t *testing.T) {
	resolver, repo := newTestResolver(t)
	c := seedConflict(t, repo, "note-1")

	if err := resolver.Resolve(c.ID, models.ResolutionRemote, nil); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	got, err := repo.GetEntity("note-1")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if got.SyncStatus != models.StatusSynced {
		t.Errorf("status = %s, want synced", got.SyncStatus)
	}
	if got.Version != 4 {
		t.Errorf("version = %d, want 4", got.Version)
	}
	if string(got.Payload) != `{"title":"theirs","content":"remote"}` {
		t.Errorf("payload = %s, want remote payload", got.Payload)
	}
}

// TestResolveMerged verifies a merged payload replaces the local one and
// is staged against the remote version.
func TestResolveMerged(t *testing.T) {
	resolver, repo := newTestResolver(t)
	c := seedConflict(t, repo, "note-1")

	merged := []byte(`{"title":"ours","content":"both"}`)
	if err := resolver.Resolve(c.ID, models.ResolutionMerged, merged); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	got, _ := repo.GetEntity("note-1")
	if got.SyncStatus != models.StatusPending || got.Version != 4 {
		t.Errorf("entity = %+v, want pending at base 4", got)
	}
	if string(got.Payload) != string(merged) {
		t.Errorf("payload = %s, want merged payload", got.Payload)
	}
}

// TestResolveMergedRequiresPayload verifies merged without a payload and
// other choices with one are rejected.
func TestResolveMergedRequiresPayload(t *testing.T) {
	resolver, repo := newTestResolver(t)
	c := seedConflict(t, repo, "note-1")

	if err := resolver.Resolve(c.ID, models.ResolutionMerged, nil); errors.Code(err) != errors.ErrResolution {
		t.Errorf("merged without payload: err = %v, want resolution error", err)
	}
	if err := resolver.Resolve(c.ID, models.ResolutionLocal, []byte(`{}`)); errors.Code(err) != errors.ErrResolution {
		t.Errorf("local with payload: err = %v, want resolution error", err)
	}
	if err := resolver.Resolve(c.ID, models.ResolutionMerged, []byte(`{not json`)); errors.Code(err) != errors.ErrResolution {
		t.Errorf("invalid merged payload: err = %v, want resolution error", err)
	}

	// Conflict must survive the rejected attempts.
	if _, err := repo.GetConflict(c.ID); err != nil {
		t.Errorf("conflict lost after rejected resolutions: %v", err)
	}
}

// TestResolveUnknownResolution rejects choices outside the taxonomy.
func TestResolveUnknownResolution(t *testing.T) {
	resolver, repo := newTestResolver(t)
	c := seedConflict(t, repo, "note-1")

	err := resolver.Resolve(c.ID, models.Resolution("theirs"), nil)
	if errors.Code(err) != errors.ErrResolution {
		t.Errorf("err = %v, want resolution error", err)
	}
}

// TestResolveTwice verifies the second resolution of the same conflict
// fails cleanly instead of double-applying.
func TestResolveTwice(t *testing.T) {
	resolver, repo := newTestResolver(t)
	c := seedConflict(t, repo, "note-1")

	if err := resolver.Resolve(c.ID, models.ResolutionRemote, nil); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	err := resolver.Resolve(c.ID, models.ResolutionRemote, nil)
	if errors.Code(err) != errors.ErrResolution {
		t.Errorf("second Resolve() err = %v, want resolution error", err)
	}
}

// TestResolveMissingConflict verifies resolving a nonexistent id reports
// a resolution error.
func TestResolveMissingConflict(t *testing.T) {
	resolver, _ := newTestResolver(t)

	err := resolver.Resolve("no-such-conflict", models.ResolutionLocal, nil)
	if errors.Code(err) != errors.ErrResolution {
		t.Errorf("err = %v, want resolution error", err)
	}
}

// TestActivePromotesNext verifies the oldest conflict is the active one
// and resolving it surfaces the next oldest.
func TestActivePromotesNext(t *testing.T) {
	resolver, repo := newTestResolver(t)

	first := seedConflict(t, repo, "note-1")
	time.Sleep(2 * time.Millisecond)
	second := seedConflict(t, repo, "note-2")

	active, err := resolver.Active()
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active == nil || active.ID != first.ID {
		t.Fatalf("active = %+v, want conflict %s", active, first.ID)
	}

	if err := resolver.Resolve(first.ID, models.ResolutionRemote, nil); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	active, err = resolver.Active()
	if err != nil {
		t.Fatalf("Active() after resolve error = %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("active = %+v, want promoted conflict %s", active, second.ID)
	}

	if err := resolver.Resolve(second.ID, models.ResolutionRemote, nil); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	active, err = resolver.Active()
	if err != nil {
		t.Fatalf("Active() on empty registry error = %v", err)
	}
	if active != nil {
		t.Errorf("active = %+v, want nil with no conflicts open", active)
	}
}
