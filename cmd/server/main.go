// Command server runs the Plexa entity service: the version authority
// that desktop clients push to and pull from, plus the presence hub.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plexa-app/plexa/internal/config"
	"github.com/plexa-app/plexa/internal/db"
	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/server"
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

	srv, err := server.New(database.DB, server.Options{
		JWTSecret:     cfg.JWT.Secret,
		JWTExpiration: cfg.JWT.Expiration,
		RequireAuth:   cfg.Server.Env == "production",
	})
	if err != nil {
		logging.Error("failed to initialize server", err, nil)
		os.Exit(1)
	}

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logging.Error("server exited", err, nil)
		os.Exit(1)
	case sig := <-stop:
		logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("shutdown failed", err, nil)
		os.Exit(1)
	}
}
