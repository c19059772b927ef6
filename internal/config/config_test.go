package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxToolRounds != 8 {
		t.Errorf("MaxToolRounds = %d, want 8", cfg.MaxToolRounds)
	}
	if cfg.ParticipantTTL != 24*time.Hour {
		t.Errorf("ParticipantTTL = %v, want 24h", cfg.ParticipantTTL)
	}
	if cfg.GroupDefaultParticipants != 5 {
		t.Errorf("GroupDefaultParticipants = %d, want 5", cfg.GroupDefaultParticipants)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
storage_backend: sqlite
sqlite_path: /var/lib/relay.db
backend_timeout: 10s
history_limit: 12
pause_phrases:
  - take a break
  - iau pauza
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HISTORY_LIMIT", "30")
	t.Setenv("SILENCE_PHRASES", "no reply, nu raspund ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.StorageBackend != "sqlite" {
		t.Errorf("StorageBackend = %q, want sqlite", cfg.StorageBackend)
	}
	if cfg.BackendTimeout != 10*time.Second {
		t.Errorf("BackendTimeout = %v, want 10s", cfg.BackendTimeout)
	}
	if cfg.HistoryLimit != 30 {
		t.Errorf("HistoryLimit = %d, want env override 30", cfg.HistoryLimit)
	}
	if len(cfg.PausePhrases) != 2 || cfg.PausePhrases[1] != "iau pauza" {
		t.Errorf("PausePhrases = %v", cfg.PausePhrases)
	}
	if len(cfg.SilencePhrases) != 2 || cfg.SilencePhrases[1] != "nu raspund" {
		t.Errorf("SilencePhrases = %v, want trimmed list of 2", cfg.SilencePhrases)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_BACKEND", "mongo")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want error for unknown storage backend")
	}
}

func TestLoadRejectsZeroHistoryLimit(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HISTORY_LIMIT", "0")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want error for history_limit 0")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}
