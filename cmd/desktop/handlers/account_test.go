package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/plexa-app/plexa/internal/db"
	"github.com/plexa-app/plexa/internal/events"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/internal/presence"
	"github.com/plexa-app/plexa/internal/remote"
	"github.com/plexa-app/plexa/internal/server"
)

func newAccountRouter(t *testing.T, serverURL string) (*mux.Router, *db.Repository) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := db.NewRepository(database.DB)
	client := remote.NewClient(serverURL, 5*time.Second)
	bus := events.NewBus(8)
	t.Cleanup(bus.Close)
	mgr := presence.NewManager(serverURL, "", models.CollaborationUser{UserID: "u-1", UserName: "Tester"}, bus)
	h := NewAccountHandler(repo, client, mgr)

	r := mux.NewRouter()
	r.HandleFunc("/api/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", h.Logout).Methods(http.MethodPost)
	r.HandleFunc("/api/cache/cleanup", h.Cleanup).Methods(http.MethodPost)
	return r, repo
}

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open server database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	srv, err := server.New(database.DB, server.Options{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func register(t *testing.T, ts *httptest.Server, email, name, password string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "name": name, "password": password})
	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
}

func TestLoginReturnsToken(t *testing.T) {
	ts := newAuthServer(t)
	register(t, ts, "ada@example.com", "Ada", "correct horse")

	r, _ := newAccountRouter(t, ts.URL)
	rr, env := doJSON(t, r, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "ada@example.com", "password": "correct horse"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200 (error %q)", rr.Code, env.Error)
	}
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["token"] == "" {
		t.Error("login returned empty token")
	}
}

func TestLoginBadCredentials(t *testing.T) {
	ts := newAuthServer(t)
	register(t, ts, "ada@example.com", "Ada", "correct horse")

	r, _ := newAccountRouter(t, ts.URL)
	rr, _ := doJSON(t, r, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "ada@example.com", "password": "wrong"})
	if rr.Code == http.StatusOK {
		t.Fatal("login with bad password succeeded")
	}
}

func TestLogoutClearsLocalCache(t *testing.T) {
	ts := newAuthServer(t)
	r, repo := newAccountRouter(t, ts.URL)

	now := time.Now().UnixMilli()
	rec := &models.EntityRecord{
		ID:         "note-1",
		Type:       models.EntityTypeNote,
		Payload:    json.RawMessage(`{"title":"keep out"}`),
		Version:    1,
		UpdatedAt:  now,
		SyncStatus: models.StatusSynced,
	}
	if err := repo.SaveLocal(rec); err != nil {
		t.Fatalf("seed entity: %v", err)
	}

	rr, _ := doJSON(t, r, http.MethodPost, "/api/auth/logout", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", rr.Code)
	}
	if _, err := repo.GetEntity("note-1"); err == nil {
		t.Error("entity survived logout, want cache cleared")
	}
}

func TestCacheCleanup(t *testing.T) {
	ts := newAuthServer(t)
	r, repo := newAccountRouter(t, ts.URL)

	now := time.Now().UnixMilli()
	tombstone := &models.EntityRecord{
		ID:         "note-gone",
		Type:       models.EntityTypeNote,
		Payload:    json.RawMessage(`{"title":"old","deleted":true}`),
		Version:    2,
		UpdatedAt:  now,
		Deleted:    true,
		SyncStatus: models.StatusSynced,
	}
	live := &models.EntityRecord{
		ID:         "note-live",
		Type:       models.EntityTypeNote,
		Payload:    json.RawMessage(`{"title":"current"}`),
		Version:    1,
		UpdatedAt:  now,
		SyncStatus: models.StatusSynced,
	}
	for _, rec := range []*models.EntityRecord{tombstone, live} {
		if err := repo.SaveLocal(rec); err != nil {
			t.Fatalf("seed %s: %v", rec.ID, err)
		}
		if err := repo.SetEntityStatus(rec.ID, models.StatusPending, models.StatusSynced, rec.Version, rec.UpdatedAt); err != nil {
			t.Fatalf("mark %s synced: %v", rec.ID, err)
		}
	}

	rr, env := doJSON(t, r, http.MethodPost, "/api/cache/cleanup", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d, want 200 (error %q)", rr.Code, env.Error)
	}
	if _, err := repo.GetEntity("note-gone"); err == nil {
		t.Error("synced tombstone survived cleanup")
	}
	if _, err := repo.GetEntity("note-live"); err != nil {
		t.Errorf("live entity purged by cleanup: %v", err)
	}
}
