package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Remote.Provider != "githttp" {
		t.Errorf("remote.provider = %q, want %q", cfg.Remote.Provider, "githttp")
	}
	if cfg.Remote.Branch != "main" {
		t.Errorf("remote.branch = %q, want %q", cfg.Remote.Branch, "main")
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("sync.interval = %s, want 30s", cfg.Sync.Interval)
	}
	if !cfg.Status.Enabled {
		t.Error("status.enabled should default to true")
	}
	if cfg.Status.Port != 7474 {
		t.Errorf("status.port = %d, want 7474", cfg.Status.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
data_dir: /var/lib/hivesync
remote:
  provider: memory
  endpoint: https://git.example.com/api
  branch: sync
sync:
  interval: 2m
status:
  enabled: false
`
	if err := os.WriteFile(filepath.Join(dir, "hivesync.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DataDir != "/var/lib/hivesync" {
		t.Errorf("data_dir = %q, want %q", cfg.DataDir, "/var/lib/hivesync")
	}
	if cfg.Remote.Provider != "memory" {
		t.Errorf("remote.provider = %q, want %q", cfg.Remote.Provider, "memory")
	}
	if cfg.Remote.Endpoint != "https://git.example.com/api" {
		t.Errorf("remote.endpoint = %q", cfg.Remote.Endpoint)
	}
	if cfg.Remote.Branch != "sync" {
		t.Errorf("remote.branch = %q, want %q", cfg.Remote.Branch, "sync")
	}
	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("sync.interval = %s, want 2m", cfg.Sync.Interval)
	}
	if cfg.Status.Enabled {
		t.Error("status.enabled should be false")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HIVESYNC_REMOTE_TOKEN", "secret-token")
	t.Setenv("HIVESYNC_REMOTE_PROVIDER", "memory")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Remote.Token != "secret-token" {
		t.Errorf("remote.token = %q, want env override", cfg.Remote.Token)
	}
	if cfg.Remote.Provider != "memory" {
		t.Errorf("remote.provider = %q, want env override", cfg.Remote.Provider)
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	dir := t.TempDir()
	content := "sync:\n  interval: -5s\n"
	if err := os.WriteFile(filepath.Join(dir, "hivesync.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("Load() should reject a negative sync interval")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data"}

	if got := cfg.DatabasePath(); got != filepath.Join("/data", "documents.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
	if got := cfg.IndexPath(); got != filepath.Join("/data", "index.db") {
		t.Errorf("IndexPath() = %q", got)
	}
	if got := cfg.ThumbnailDir(); got != filepath.Join("/data", "thumbnails") {
		t.Errorf("ThumbnailDir() = %q", got)
	}
	if got := cfg.LogPath(); got != filepath.Join("/data", "daemon.log") {
		t.Errorf("LogPath() = %q", got)
	}

	cfg.Log.File = "/var/log/hivesync.log"
	if got := cfg.LogPath(); got != "/var/log/hivesync.log" {
		t.Errorf("LogPath() with override = %q", got)
	}
}
