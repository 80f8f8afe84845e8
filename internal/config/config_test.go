package config

import (
	"testing"
	"time"
)

// TestLoadDefaults verifies defaults apply with an empty environment.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("server port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Sync.Workers != 4 {
		t.Errorf("sync workers = %d, want 4", cfg.Sync.Workers)
	}
	if cfg.Sync.PushTimeout != 15*time.Second {
		t.Errorf("push timeout = %v, want 15s", cfg.Sync.PushTimeout)
	}
}

// TestLoadOverrides verifies environment values win over defaults.
func TestLoadOverrides(t *testing.T) {
	t.Setenv("PLEXA_PORT", "9999")
	t.Setenv("PLEXA_SYNC_WORKERS", "8")
	t.Setenv("PLEXA_SYNC_INTERVAL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("server port = %s, want 9999", cfg.Server.Port)
	}
	if cfg.Sync.Workers != 8 {
		t.Errorf("sync workers = %d, want 8", cfg.Sync.Workers)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("sync interval = %v, want 30s", cfg.Sync.Interval)
	}
}

// TestLoadBadValues verifies malformed values fall back to defaults.
func TestLoadBadValues(t *testing.T) {
	t.Setenv("PLEXA_SYNC_WORKERS", "many")
	t.Setenv("PLEXA_QUEUE_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sync.Workers != 4 {
		t.Errorf("sync workers = %d, want default 4", cfg.Sync.Workers)
	}
	if cfg.Sync.QueueInterval != time.Minute {
		t.Errorf("queue interval = %v, want default 1m", cfg.Sync.QueueInterval)
	}
}
