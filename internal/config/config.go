// Package config loads samguard's process-wide configuration from
// ~/.sam/samguard.yaml, with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's process configuration. Per-project policy lives
// in the permissions/autofix stores, not here.
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Storage StorageConfig `yaml:"storage"`
	Cron    CronConfig    `yaml:"cron"`
	Log     LogConfig     `yaml:"log"`
}

// DaemonConfig controls the Unix-socket server lifecycle.
type DaemonConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	SocketPath  string        `yaml:"socket_path"`
	PIDPath     string        `yaml:"pid_path"`
}

// StorageConfig locates the sqlite databases and checkpoint backup tree.
type StorageConfig struct {
	Dir                 string `yaml:"dir"`
	PermissionsDB       string `yaml:"permissions_db"`
	CheckpointDB        string `yaml:"checkpoint_db"`
	CheckpointBackupDir string `yaml:"checkpoint_backup_dir"`
	AuditDB             string `yaml:"audit_db"`
	AutoFixDB           string `yaml:"autofix_db"`
}

// CronConfig schedules the daemon's background maintenance sweeps.
type CronConfig struct {
	Schedule                string `yaml:"schedule"`
	CheckpointRetentionDays int    `yaml:"checkpoint_retention_days"`
	RateLimitRetentionDays  int    `yaml:"rate_limit_retention_days"`
}

// LogConfig configures the rotating trace log (lumberjack-backed).
type LogConfig struct {
	Level     string `yaml:"level"`
	TracePath string `yaml:"trace_path"`
}

// DefaultConfig mirrors ProjectPermissions defaults: conservative,
// explicit, every value overridable from the config file.
func DefaultConfig(homeDir string) *Config {
	dir := filepath.Join(homeDir, ".sam")
	return &Config{
		Daemon: DaemonConfig{
			IdleTimeout: 5 * time.Minute,
			SocketPath:  filepath.Join(dir, "daemon.sock"),
			PIDPath:     filepath.Join(dir, "daemon.pid"),
		},
		Storage: StorageConfig{
			Dir:                 dir,
			PermissionsDB:       filepath.Join(dir, "permissions.db"),
			CheckpointDB:        filepath.Join(dir, "checkpoints.db"),
			CheckpointBackupDir: filepath.Join(dir, "backups"),
			AuditDB:             filepath.Join(dir, "audit.db"),
			AutoFixDB:           filepath.Join(dir, "autofix.db"),
		},
		Cron: CronConfig{
			Schedule:                "0 */6 * * *",
			CheckpointRetentionDays: 30,
			RateLimitRetentionDays:  7,
		},
		Log: LogConfig{
			Level:     "info",
			TracePath: filepath.Join(dir, "trace.log"),
		},
	}
}

// Load reads configuration using the real environment and home directory.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return LoadWithEnv(home, os.Getenv)
}

// LoadWithEnv loads configuration with an injectable home dir and env
// lookup, so tests can run hermetically.
func LoadWithEnv(homeDir string, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig(homeDir)

	path := configPath(homeDir, getenv)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if v := getenv("SAMGUARD_SOCKET_PATH"); v != "" {
		cfg.Daemon.SocketPath = v
	}
	if v := getenv("SAMGUARD_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Daemon.IdleTimeout = d
		}
	}
	if v := getenv("SAMGUARD_HOME"); v != "" {
		cfg.Storage.Dir = v
	}

	return cfg, nil
}

func configPath(homeDir string, getenv func(string) string) string {
	if p := getenv("SAMGUARD_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(homeDir, ".sam", "samguard.yaml")
}

// EnsureDirs creates the storage and daemon directories config points at.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Storage.Dir, c.Storage.CheckpointBackupDir, filepath.Dir(c.Daemon.SocketPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
