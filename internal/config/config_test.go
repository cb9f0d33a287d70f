package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Guardian.RunInterval != 1*time.Minute {
		t.Errorf("RunInterval = %s, want 1m", cfg.Guardian.RunInterval)
	}
	if cfg.Guardian.LookforwardPeriod != 24*time.Hour {
		t.Errorf("LookforwardPeriod = %s, want 24h", cfg.Guardian.LookforwardPeriod)
	}
	if cfg.Guardian.ConcurrencyLimit != 4 {
		t.Errorf("ConcurrencyLimit = %d, want 4", cfg.Guardian.ConcurrencyLimit)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
guardian:
  run_interval: 5m
  concurrency_limit: 2
  batch_size: 10
server:
  http_port: 9090
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Guardian.RunInterval != 5*time.Minute {
		t.Errorf("RunInterval = %s, want 5m", cfg.Guardian.RunInterval)
	}
	if cfg.Guardian.ConcurrencyLimit != 2 {
		t.Errorf("ConcurrencyLimit = %d, want 2", cfg.Guardian.ConcurrencyLimit)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.Server.HTTPPort)
	}
	// Untouched sections keep defaults.
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %s, want default", cfg.Redis.Addr)
	}
}

func TestLoadRejectsInvalidTunables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
guardian:
  concurrency_limit: -1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for negative concurrency_limit")
	}
}

func TestValidateAuthRequiresSecret(t *testing.T) {
	cfg := Default()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for enabled auth without jwt_secret")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RANGUARD_DATABASE_DSN", "postgres://elsewhere/db")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Database.DSN != "postgres://elsewhere/db" {
		t.Errorf("DSN = %s, want env override", cfg.Database.DSN)
	}
	if cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("NATS.URL = %s, want env override", cfg.NATS.URL)
	}
}
