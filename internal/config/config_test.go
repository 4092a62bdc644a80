package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediamill/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
	if cfg.Retention != 45*time.Minute {
		t.Errorf("Retention = %v, want 45m", cfg.Retention)
	}
	if cfg.StreamSample != 500*time.Millisecond {
		t.Errorf("StreamSample = %v, want 500ms", cfg.StreamSample)
	}
	if cfg.StreamBudget != 300*time.Second {
		t.Errorf("StreamBudget = %v, want 300s", cfg.StreamBudget)
	}
	if len(cfg.FetchDomains) == 0 {
		t.Error("FetchDomains should have defaults")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEDIAMILL_LISTEN_ADDR", ":9999")
	t.Setenv("MEDIAMILL_WORKERS", "8")
	t.Setenv("MEDIAMILL_RETENTION", "30m")
	t.Setenv("MEDIAMILL_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.Retention != 30*time.Minute {
		t.Errorf("Retention = %v, want 30m", cfg.Retention)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediamill.toml")
	content := `
listen_addr = ":7070"
workers = 4
retention = "1h"
stream_sample = "250ms"
fetch_domains = ["example.com"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDIAMILL_CONFIG", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want :7070", cfg.ListenAddr)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.Retention != time.Hour {
		t.Errorf("Retention = %v, want 1h", cfg.Retention)
	}
	if cfg.StreamSample != 250*time.Millisecond {
		t.Errorf("StreamSample = %v, want 250ms", cfg.StreamSample)
	}
	if len(cfg.FetchDomains) != 1 || cfg.FetchDomains[0] != "example.com" {
		t.Errorf("FetchDomains = %v, want [example.com]", cfg.FetchDomains)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediamill.toml")
	if err := os.WriteFile(path, []byte(`workers = 4`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDIAMILL_CONFIG", path)
	t.Setenv("MEDIAMILL_WORKERS", "16")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 16 {
		t.Errorf("Workers = %d, want env override 16", cfg.Workers)
	}
}

func TestLoadBadDuration(t *testing.T) {
	t.Setenv("MEDIAMILL_RETENTION", "not-a-duration")
	if _, err := config.Load(); err == nil {
		t.Fatal("Load with bad duration should fail")
	}
}

func TestLoadBadWorkers(t *testing.T) {
	t.Setenv("MEDIAMILL_WORKERS", "0")
	if _, err := config.Load(); err == nil {
		t.Fatal("Load with zero workers should fail")
	}
}
