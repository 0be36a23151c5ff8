package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Sync.MaxRetries = 5
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Sync.MaxRetries != 5 {
		t.Errorf("Sync.MaxRetries = %d, want 5", loaded.Sync.MaxRetries)
	}
	if loaded.Sync.BackoffBase.Duration() != 30*time.Second {
		t.Errorf("Sync.BackoffBase = %v, want 30s", loaded.Sync.BackoffBase.Duration())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("default_profile = \"p1\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.DefaultProfile != "p1" {
		t.Errorf("DefaultProfile = %q, want p1", loaded.DefaultProfile)
	}
	if loaded.Sync.Interval.Duration() != 15*time.Minute {
		t.Errorf("Sync.Interval = %v, want default 15m", loaded.Sync.Interval.Duration())
	}
	if loaded.Sync.MaxRetries != 3 {
		t.Errorf("Sync.MaxRetries = %d, want default 3", loaded.Sync.MaxRetries)
	}
}

func TestDurationText(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	raw := "[sync]\ninterval = \"1m30s\"\n"
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Sync.Interval.Duration() != 90*time.Second {
		t.Errorf("Sync.Interval = %v, want 1m30s", loaded.Sync.Interval.Duration())
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
