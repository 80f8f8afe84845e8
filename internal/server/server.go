package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/plexa-app/plexa/internal/logging"
)

// Options configures the entity service.
type Options struct {
	JWTSecret     string
	JWTExpiration time.Duration
	// RequireAuth protects the entity endpoints with bearer tokens.
	// Off by default so a single-user desktop deployment works without
	// accounts.
	RequireAuth bool
}

// Server bundles the entity store, HTTP API, and presence hub.
type Server struct {
	store  *Store
	hub    *Hub
	router *mux.Router
	http   *http.Server
}

// New wires the service over an open database.
func New(db *sql.DB, opts Options) (*Server, error) {
	store, err := NewStore(db)
	if err != nil {
		return nil, err
	}
	if opts.JWTExpiration == 0 {
		opts.JWTExpiration = 24 * time.Hour
	}

	hub := NewHub()
	go hub.Run()

	entityHandler := NewEntityHandler(store)
	authHandler := NewAuthHandler(store, opts.JWTSecret, opts.JWTExpiration)
	presenceHandler := NewPresenceHandler(hub, wsSecret(opts))

	r := mux.NewRouter()

	// Websocket upgrade stays outside the logging middleware so the
	// connection remains hijackable.
	r.Handle("/ws/presence/{noteID}", presenceHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(LoggerMiddleware())

	api.HandleFunc("/auth/register", authHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)

	entities := api.PathPrefix("").Subrouter()
	if opts.RequireAuth {
		entities.Use(AuthMiddleware(opts.JWTSecret))
	}
	entities.HandleFunc("/entities/{type}", entityHandler.Create).Methods(http.MethodPost)
	entities.HandleFunc("/entities/{type}", entityHandler.Pull).Methods(http.MethodGet)
	entities.HandleFunc("/entities/{type}/{id}", entityHandler.Push).Methods(http.MethodPut)
	entities.HandleFunc("/todos/sync", entityHandler.SyncTodos).Methods(http.MethodPost)

	return &Server{store: store, hub: hub, router: r}, nil
}

func wsSecret(opts Options) string {
	if opts.RequireAuth {
		return opts.JWTSecret
	}
	return ""
}

// Router exposes the handler tree, used directly by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Store exposes the underlying store for seeding and inspection.
func (s *Server) Store() *Store {
	return s.store
}

// Hub exposes the presence hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	logging.Info("entity service listening", map[string]interface{}{"addr": addr})
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the presence hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
