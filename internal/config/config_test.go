package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigPaths(t *testing.T) {
	cfg := DefaultConfig("/home/alice")
	want := "/home/alice/.sam/permissions.db"
	if cfg.Storage.PermissionsDB != want {
		t.Errorf("PermissionsDB = %s, want %s", cfg.Storage.PermissionsDB, want)
	}
	if cfg.Daemon.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout = %v, want 5m", cfg.Daemon.IdleTimeout)
	}
}

func TestLoadWithEnvAppliesFileAndOverrides(t *testing.T) {
	home := t.TempDir()
	samDir := filepath.Join(home, ".sam")
	if err := os.MkdirAll(samDir, 0o755); err != nil {
		t.Fatal(err)
	}
	yamlContent := "daemon:\n  idle_timeout: 10m\ncron:\n  schedule: \"*/30 * * * *\"\n"
	if err := os.WriteFile(filepath.Join(samDir, "samguard.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	env := map[string]string{"SAMGUARD_SOCKET_PATH": "/tmp/custom.sock"}
	getenv := func(k string) string { return env[k] }

	cfg, err := LoadWithEnv(home, getenv)
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Daemon.IdleTimeout != 10*time.Minute {
		t.Errorf("IdleTimeout = %v, want 10m (from file)", cfg.Daemon.IdleTimeout)
	}
	if cfg.Cron.Schedule != "*/30 * * * *" {
		t.Errorf("Cron.Schedule = %s, want override from file", cfg.Cron.Schedule)
	}
	if cfg.Daemon.SocketPath != "/tmp/custom.sock" {
		t.Errorf("SocketPath = %s, want env override", cfg.Daemon.SocketPath)
	}
}

func TestLoadWithEnvMissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadWithEnv(home, func(string) string { return "" })
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Storage.Dir != filepath.Join(home, ".sam") {
		t.Errorf("Storage.Dir = %s, want default", cfg.Storage.Dir)
	}
}
