// Command desktop runs the local backend the desktop UI talks to on
// localhost: entity CRUD against the offline cache, sync control,
// conflict resolution, note history and live presence, with a WebSocket
// stream of sync and presence events.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/plexa-app/plexa/cmd/desktop/handlers"
	"github.com/plexa-app/plexa/internal/config"
	"github.com/plexa-app/plexa/internal/db"
	"github.com/plexa-app/plexa/internal/events"
	"github.com/plexa-app/plexa/internal/history"
	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/internal/presence"
	"github.com/plexa-app/plexa/internal/remote"
	syncengine "github.com/plexa-app/plexa/internal/sync"
	"github.com/plexa-app/plexa/internal/sync/conflict"
	"github.com/plexa-app/plexa/internal/sync/queue"
	"github.com/plexa-app/plexa/internal/sync/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("failed to load configuration", err, nil)
		os.Exit(1)
	}
	logging.Init(os.Stdout, cfg.Logging.Level)

	database, err := db.Open(cfg.Database.DataDir)
	if err != nil {
		logging.Error("failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		logging.Error("migration failed", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)
	bus := events.NewBus(cfg.WebSocket.SendBuffer)
	defer bus.Close()

	client := remote.NewClient(cfg.Desktop.ServerURL, cfg.Sync.PushTimeout)

	user := localUser(cfg)
	engine := syncengine.NewEngine(repo, client, bus, cfg.Sync.Workers)
	retryQueue := queue.NewRetryQueue(cfg.Sync.QueueSize, cfg.Sync.MaxRetries)
	engine.SetRetrySink(retryQueue)

	resolver := conflict.NewResolver(repo, bus)
	historySvc := history.NewService(repo)
	presenceMgr := presence.NewManager(cfg.Desktop.ServerURL, "", user, bus)

	sched := scheduler.New(
		func(ctx context.Context) error {
			_, err := engine.TriggerSync(ctx)
			return err
		},
		engine,
		retryQueue,
		&scheduler.Config{
			SyncInterval:  cfg.Sync.Interval,
			QueueInterval: cfg.Sync.QueueInterval,
			SyncTimeout:   5 * time.Minute,
		},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An unreachable server flips us offline and kills every presence
	// session; the retry drain loop keeps probing until reconnect.
	sched.SetOfflineHook(func() {
		sched.SetOnline(ctx, false)
		presenceMgr.CloseAll()
	})
	sched.Start(ctx)
	defer sched.Stop()

	hub := NewWSHub()
	defer hub.Close()
	hub.Forward(bus)

	srv := &http.Server{
		Addr:         "localhost:" + cfg.Desktop.Port,
		Handler:      buildRouter(cfg, repo, client, engine, retryQueue, sched, resolver, historySvc, presenceMgr, hub, user),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.Info("desktop backend listening", map[string]interface{}{
		"addr":   srv.Addr,
		"remote": cfg.Desktop.ServerURL,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logging.Error("desktop server exited", err, nil)
		os.Exit(1)
	case sig := <-stop:
		logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	}

	presenceMgr.CloseAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown failed", err, nil)
		os.Exit(1)
	}
}

// localUser identifies this installation in presence rosters. IDs are
// generated once per process when not configured.
func localUser(cfg *config.Config) models.CollaborationUser {
	id := cfg.Desktop.UserID
	if id == "" {
		id = uuid.New().String()
	}
	name := cfg.Desktop.UserName
	if name == "" {
		name = "Anonymous"
	}
	return models.CollaborationUser{
		UserID:   id,
		UserName: name,
	}
}

func buildRouter(
	cfg *config.Config,
	repo *db.Repository,
	client *remote.Client,
	engine *syncengine.Engine,
	retryQueue *queue.RetryQueue,
	sched *scheduler.Scheduler,
	resolver *conflict.Resolver,
	historySvc *history.Service,
	presenceMgr *presence.Manager,
	hub *WSHub,
	user models.CollaborationUser,
) *mux.Router {
	author := models.UUID(user.UserID)
	notes := handlers.NewNotesHandler(repo, historySvc, author, user.UserName)
	people := handlers.NewPeopleHandler(repo)
	todos := handlers.NewTodosHandler(repo)
	syncH := handlers.NewSyncHandler(repo, engine, retryQueue, sched)
	conflictsH := handlers.NewConflictsHandler(resolver)
	historyH := handlers.NewHistoryHandler(historySvc, author, user.UserName)
	presenceH := handlers.NewPresenceHandler(presenceMgr)
	accountH := handlers.NewAccountHandler(repo, client, presenceMgr)

	r := mux.NewRouter()
	r.HandleFunc("/ws", hub.ServeWS)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"plexa-desktop"}`))
	}).Methods(http.MethodGet)

	api.HandleFunc("/auth/login", accountH.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", accountH.Logout).Methods(http.MethodPost)
	api.HandleFunc("/cache/cleanup", accountH.Cleanup).Methods(http.MethodPost)

	api.HandleFunc("/notes", notes.Create).Methods(http.MethodPost)
	api.HandleFunc("/notes", notes.List).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}", notes.Get).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}", notes.Update).Methods(http.MethodPut)
	api.HandleFunc("/notes/{id}", notes.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/notes/{id}/versions", historyH.List).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}/versions", historyH.Snapshot).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}/versions/{version}", historyH.Get).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}/versions/{version}/restore", historyH.Restore).Methods(http.MethodPost)

	api.HandleFunc("/people", people.Create).Methods(http.MethodPost)
	api.HandleFunc("/people", people.List).Methods(http.MethodGet)
	api.HandleFunc("/people/{id}", people.Get).Methods(http.MethodGet)
	api.HandleFunc("/people/{id}", people.Update).Methods(http.MethodPut)
	api.HandleFunc("/people/{id}", people.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/todos", todos.Create).Methods(http.MethodPost)
	api.HandleFunc("/todos", todos.List).Methods(http.MethodGet)
	api.HandleFunc("/todos/{id}", todos.Get).Methods(http.MethodGet)
	api.HandleFunc("/todos/{id}", todos.Update).Methods(http.MethodPut)
	api.HandleFunc("/todos/{id}", todos.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/sync/now", syncH.TriggerSync).Methods(http.MethodPost)
	api.HandleFunc("/sync/status", syncH.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync/online", syncH.SetOnline).Methods(http.MethodPost)

	api.HandleFunc("/conflicts", conflictsH.List).Methods(http.MethodGet)
	api.HandleFunc("/conflicts/active", conflictsH.Active).Methods(http.MethodGet)
	api.HandleFunc("/conflicts/{id}", conflictsH.Get).Methods(http.MethodGet)
	api.HandleFunc("/conflicts/{id}/resolve", conflictsH.Resolve).Methods(http.MethodPost)

	api.HandleFunc("/presence/{noteID}", presenceH.Roster).Methods(http.MethodGet)
	api.HandleFunc("/presence/{noteID}/join", presenceH.Join).Methods(http.MethodPost)
	api.HandleFunc("/presence/{noteID}/leave", presenceH.Leave).Methods(http.MethodPost)
	api.HandleFunc("/presence/{noteID}/cursor", presenceH.Cursor).Methods(http.MethodPost)

	return r
}
