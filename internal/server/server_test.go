package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plexa-app/plexa/internal/db"
	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/internal/remote"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	srv, err := New(database.DB, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(srv.hub.Close)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestPushRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	client := remote.NewClient(ts.URL, 5*time.Second)

	result, err := client.PushEntity(context.Background(), models.EntityTypeNote, remote.PushRequest{
		ID:          "note-1",
		BaseVersion: 0,
		Payload:     []byte(`{"title":"hello","content":"world"}`),
	})
	if err != nil {
		t.Fatalf("PushEntity() error = %v", err)
	}
	if result.Outcome != remote.OutcomeAccepted || result.Accepted.Version != 1 {
		t.Errorf("result = %+v, want accepted at version 1", result)
	}

	// Second write with the issued version as base.
	result, err = client.PushEntity(context.Background(), models.EntityTypeNote, remote.PushRequest{
		ID:          "note-1",
		BaseVersion: 1,
		Payload:     []byte(`{"title":"hello again","content":"world"}`),
	})
	if err != nil {
		t.Fatalf("PushEntity() error = %v", err)
	}
	if result.Outcome != remote.OutcomeAccepted || result.Accepted.Version != 2 {
		t.Errorf("result = %+v, want accepted at version 2", result)
	}
}

func TestPushConflictReturnsSnapshot(t *testing.T) {
	srv, ts := newTestServer(t, Options{})
	client := remote.NewClient(ts.URL, 5*time.Second)

	mustPush(t, srv.Store(), "note-1", 0)
	mustPush(t, srv.Store(), "note-1", 1)

	result, err := client.PushEntity(context.Background(), models.EntityTypeNote, remote.PushRequest{
		ID:          "note-1",
		BaseVersion: 1,
		Payload:     []byte(`{"title":"stale"}`),
	})
	if err != nil {
		t.Fatalf("PushEntity() error = %v", err)
	}
	if result.Outcome != remote.OutcomeConflict {
		t.Fatalf("outcome = %v, want conflict", result.Outcome)
	}
	if result.Conflict.RemoteVersion != 2 {
		t.Errorf("remote version = %d, want 2", result.Conflict.RemoteVersion)
	}
	if len(result.Conflict.RemotePayload) == 0 {
		t.Error("conflict carries no remote payload")
	}
}

func TestPushRejectsInvalidPayload(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	client := remote.NewClient(ts.URL, 5*time.Second)

	result, err := client.PushEntity(context.Background(), models.EntityTypeNote, remote.PushRequest{
		ID:          "note-1",
		BaseVersion: 0,
		Payload:     []byte(`{broken`),
	})
	if err != nil {
		t.Fatalf("PushEntity() error = %v", err)
	}
	if result.Outcome != remote.OutcomeRejected {
		t.Errorf("outcome = %v, want rejected", result.Outcome)
	}
	if result.RejectReason == "" {
		t.Error("rejection carries no reason")
	}
}

func TestPullSinceStrictlyAfter(t *testing.T) {
	srv, ts := newTestServer(t, Options{})
	client := remote.NewClient(ts.URL, 5*time.Second)

	mustPush(t, srv.Store(), "note-1", 0)
	row, err := srv.Store().GetEntity("note-1")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}

	pull, err := client.PullSince(context.Background(), models.EntityTypeNote, 0)
	if err != nil {
		t.Fatalf("PullSince() error = %v", err)
	}
	if len(pull.Entities) != 1 || pull.Entities[0].ID != "note-1" {
		t.Errorf("entities = %+v", pull.Entities)
	}
	if pull.ServerTime == 0 {
		t.Error("server time missing")
	}

	empty, err := client.PullSince(context.Background(), models.EntityTypeNote, row.UpdatedAt)
	if err != nil {
		t.Fatalf("PullSince() error = %v", err)
	}
	if len(empty.Entities) != 0 {
		t.Errorf("entities = %+v, want none at the high-water mark", empty.Entities)
	}
}

func TestTodoBatchMixedOutcomes(t *testing.T) {
	srv, ts := newTestServer(t, Options{})
	client := remote.NewClient(ts.URL, 5*time.Second)

	// todo-conflict exists at version 2 server-side.
	mustPushTyped(t, srv.Store(), models.EntityTypeTodo, "todo-conflict", 0)
	mustPushTyped(t, srv.Store(), models.EntityTypeTodo, "todo-conflict", 1)

	resp, err := client.SyncTodos(context.Background(), remote.TodoSyncRequest{
		Items: []remote.PushRequest{
			{ID: "todo-new", BaseVersion: 0, Payload: []byte(`{"title":"buy milk"}`)},
			{ID: "todo-conflict", BaseVersion: 1, Payload: []byte(`{"title":"stale"}`)},
			{ID: "todo-bad", BaseVersion: 0, Payload: []byte(`{oops`)},
		},
	})
	if err != nil {
		t.Fatalf("SyncTodos() error = %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(resp.Results))
	}

	byID := map[models.UUID]remote.TodoSyncItemResult{}
	for _, r := range resp.Results {
		byID[r.ID] = r
	}
	if r := byID["todo-new"]; r.Outcome != remote.OutcomeAccepted || r.Accepted.Version != 1 {
		t.Errorf("todo-new = %+v", r)
	}
	if r := byID["todo-conflict"]; r.Outcome != remote.OutcomeConflict || r.Conflict.RemoteVersion != 2 {
		t.Errorf("todo-conflict = %+v", r)
	}
	if r := byID["todo-bad"]; r.Outcome != remote.OutcomeRejected || r.Error == "" {
		t.Errorf("todo-bad = %+v", r)
	}
}

func TestAuthFlow(t *testing.T) {
	opts := Options{JWTSecret: "test-secret-key-32-characters!!", RequireAuth: true}
	_, ts := newTestServer(t, opts)
	client := remote.NewClient(ts.URL, 5*time.Second)

	// Entity endpoints reject anonymous requests.
	_, err := client.PullSince(context.Background(), models.EntityTypeNote, 0)
	if errors.Code(err) != errors.ErrAuthFailed {
		t.Fatalf("anonymous pull err = %v, want auth failure", err)
	}

	// Register then login through the real endpoints.
	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"email":"alice@example.com","name":"Alice","password":"SecurePass1"}`))
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}

	token, err := client.Login(context.Background(), "alice@example.com", "SecurePass1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	client.SetToken(token)
	if _, err := client.PullSince(context.Background(), models.EntityTypeNote, 0); err != nil {
		t.Errorf("authenticated pull failed: %v", err)
	}

	// Wrong password is rejected.
	if _, err := client.Login(context.Background(), "alice@example.com", "WrongPass99"); errors.Code(err) != errors.ErrAuthFailed {
		t.Errorf("bad login err = %v, want auth failure", err)
	}
}

// TestPresenceRoomRoster exercises the hub end to end: two connections
// join a note and each sees a two-user roster; a disconnect shrinks it.
func TestPresenceRoomRoster(t *testing.T) {
	srv, ts := newTestServer(t, Options{})

	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http")
	dial := func(userID string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(
			wsBase+"/ws/presence/note-1?user_id="+userID, nil)
		if err != nil {
			t.Fatalf("dial %s failed: %v", userID, err)
		}
		return conn
	}

	alice := dial("alice")
	defer alice.Close()
	bob := dial("bob")
	defer bob.Close()

	waitRoomSize(t, srv.Hub(), "note-1", 2)

	// Drain roster broadcasts until one names both users.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never saw a two-user roster")
		}
		alice.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Type    string `json:"type"`
			Payload struct {
				Users []struct {
					UserID string `json:"user_id"`
				} `json:"users"`
			} `json:"payload"`
		}
		if err := alice.ReadJSON(&msg); err != nil {
			t.Fatalf("roster read failed: %v", err)
		}
		if msg.Type == "roster" && len(msg.Payload.Users) == 2 {
			break
		}
	}

	bob.Close()
	waitRoomSize(t, srv.Hub(), "note-1", 1)
}

func waitRoomSize(t *testing.T, hub *Hub, noteID models.UUID, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for hub.RoomSize(noteID) != want {
		select {
		case <-deadline:
			t.Fatalf("room size = %d, want %d", hub.RoomSize(noteID), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func mustPushTyped(t *testing.T, store *Store, typ models.EntityType, id models.UUID, base int64) {
	t.Helper()
	decision, err := store.Push(typ, id, base, []byte(`{"title":"t"}`), false)
	if err != nil || !decision.Accepted {
		t.Fatalf("push %s base %d: err=%v decision=%+v", id, base, err, decision)
	}
}
