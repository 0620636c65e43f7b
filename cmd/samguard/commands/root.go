// Package commands implements the samguard CLI's subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/followthedavid/samguard/internal/config"
	"github.com/followthedavid/samguard/internal/daemon"
	"github.com/followthedavid/samguard/internal/hookclient"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "samguard",
	Short: "Autonomous-action safety core for AI coding assistants",
	Long: `samguard classifies commands and file writes by risk, enforces
per-project permission policy, checkpoints files before risky operations,
and logs every execution for audit and rollback.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.sam/samguard.yaml)")
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		os.Setenv("SAMGUARD_CONFIG", cfgFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func daemonConfig(cfg *config.Config) daemon.Config {
	return daemon.Config{
		IdleTimeout: cfg.Daemon.IdleTimeout,
		SocketPath:  cfg.Daemon.SocketPath,
		PIDPath:     cfg.Daemon.PIDPath,
	}
}

func newHookClient(cfg *config.Config) *hookclient.Client {
	return hookclient.New(cfg.Daemon.SocketPath, daemon.StartProcess)
}
