package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Scheduler.TickSeconds != 60 {
		t.Errorf("expected tick_seconds 60, got %d", cfg.Scheduler.TickSeconds)
	}
	if cfg.AI.RequestsPerMinute != 15 {
		t.Errorf("expected 15 requests/minute, got %d", cfg.AI.RequestsPerMinute)
	}
	if cfg.AI.ChunkSize != 10 {
		t.Errorf("expected chunk_size 10, got %d", cfg.AI.ChunkSize)
	}
	if len(cfg.AI.ModelPreference) == 0 {
		t.Error("expected model preference list to be populated")
	}
	if cfg.AI.NotableScore != 8 || cfg.AI.UrgentScore != 9 {
		t.Errorf("expected thresholds 8/9, got %v/%v", cfg.AI.NotableScore, cfg.AI.UrgentScore)
	}
	if !cfg.Search.Leboncoin.Enabled {
		t.Error("expected leboncoin provider enabled by default")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
ai:
  requests_per_minute: 5
  chunk_size: 4
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.AI.RequestsPerMinute != 5 {
		t.Errorf("expected 5 requests/minute, got %d", cfg.AI.RequestsPerMinute)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Scheduler.TickSeconds != 60 {
		t.Errorf("expected default tick_seconds, got %d", cfg.Scheduler.TickSeconds)
	}
	if cfg.AI.BackoffStepSeconds != 20 {
		t.Errorf("expected default backoff step, got %d", cfg.AI.BackoffStepSeconds)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.AI.ChunkSize != 10 {
		t.Errorf("expected chunk_size 10 from file, got %d", cfg.AI.ChunkSize)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	cfg, _ := parse(nil)
	t.Setenv("GEMINI_API_KEY", "test-key")
	if cfg.APIKey() != "test-key" {
		t.Errorf("expected key from env, got %q", cfg.APIKey())
	}
}
