package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DBPath != "drover.db" {
		t.Errorf("DBPath = %q, want drover.db", cfg.DBPath)
	}
	if cfg.Backend != "auto" {
		t.Errorf("Backend = %q, want auto", cfg.Backend)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if !cfg.SweepEnabled {
		t.Error("SweepEnabled = false, want true by default")
	}
	if cfg.DefaultMaxRetries != 0 {
		t.Errorf("DefaultMaxRetries = %d, want 0", cfg.DefaultMaxRetries)
	}
	if cfg.WhitelistThreshold != 3 {
		t.Errorf("WhitelistThreshold = %d, want 3", cfg.WhitelistThreshold)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("DROVER_BACKEND", "slurm")
	os.Setenv("DROVER_POLL_INTERVAL", "5s")
	os.Setenv("DROVER_DEFAULT_MAX_RETRIES", "2")
	defer func() {
		os.Unsetenv("DROVER_BACKEND")
		os.Unsetenv("DROVER_POLL_INTERVAL")
		os.Unsetenv("DROVER_DEFAULT_MAX_RETRIES")
	}()

	cfg := Load()
	if cfg.Backend != "slurm" {
		t.Errorf("Backend = %q, want slurm", cfg.Backend)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.DefaultMaxRetries != 2 {
		t.Errorf("DefaultMaxRetries = %d, want 2", cfg.DefaultMaxRetries)
	}
}

func TestLoadSecretFilePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-key")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	os.Setenv("DROVER_API_KEY", "from-env")
	os.Setenv("DROVER_API_KEY_FILE", path)
	defer func() {
		os.Unsetenv("DROVER_API_KEY")
		os.Unsetenv("DROVER_API_KEY_FILE")
	}()

	cfg := Load()
	if cfg.APIKey != "from-file" {
		t.Errorf("APIKey = %q, want the *_FILE value to win", cfg.APIKey)
	}
}
