// Package daemon hosts the permission, checkpoint, audit, and auto-fix
// stores behind a single long-lived Unix socket server, matching the
// accept-then-handle-sequentially daemon shape the hook client and CLI
// both talk to.
package daemon

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/followthedavid/samguard/internal/audit"
	"github.com/followthedavid/samguard/internal/autofix"
	"github.com/followthedavid/samguard/internal/checkpoint"
	"github.com/followthedavid/samguard/internal/config"
	"github.com/followthedavid/samguard/internal/permissions"
)

// Config controls the daemon's socket lifecycle, independent of the
// stores it hosts.
type Config struct {
	IdleTimeout time.Duration
	SocketPath  string
	PIDPath     string
}

func (c Config) socketPath() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return filepath.Join(os.Getenv("HOME"), ".sam", "daemon.sock")
}

func (c Config) pidPath() string {
	if c.PIDPath != "" {
		return c.PIDPath
	}
	return filepath.Join(os.Getenv("HOME"), ".sam", "daemon.pid")
}

// Stores bundles the four durable engines a daemon request may touch.
type Stores struct {
	Permissions *permissions.Store
	Engine      *permissions.Engine
	Checkpoints *checkpoint.Store
	Audit       *audit.Store
	AutoFix     *autofix.Controller
}

// Open opens all four stores from a resolved config.
func Open(cfg *config.Config) (*Stores, error) {
	permStore, err := permissions.Open(cfg.Storage.PermissionsDB)
	if err != nil {
		return nil, fmt.Errorf("open permissions store: %w", err)
	}
	checkpointStore, err := checkpoint.Open(cfg.Storage.CheckpointDB, cfg.Storage.CheckpointBackupDir)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	auditStore, err := audit.Open(cfg.Storage.AuditDB, cfg.Log.TracePath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	autofixController, err := autofix.Open(cfg.Storage.AutoFixDB)
	if err != nil {
		return nil, fmt.Errorf("open autofix controller: %w", err)
	}
	return &Stores{
		Permissions: permStore,
		Engine:      permissions.NewEngine(permStore),
		Checkpoints: checkpointStore,
		Audit:       auditStore,
		AutoFix:     autofixController,
	}, nil
}

// Close closes every store, collecting the first error encountered.
func (s *Stores) Close() error {
	var firstErr error
	for _, closer := range []func() error{s.Permissions.Close, s.Checkpoints.Close, s.Audit.Close, s.AutoFix.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Daemon is a persistent Unix socket server evaluating samguard RPC
// requests against its durable stores.
type Daemon struct {
	stores       *Stores
	cronCfg      config.CronConfig
	config       Config
	listener     net.Listener
	cron         *cron.Cron
	shuttingDown atomic.Bool
	wg           sync.WaitGroup
	log          *slog.Logger
}

// New creates a daemon over the given stores and socket config.
func New(stores *Stores, cronCfg config.CronConfig, cfg Config, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{stores: stores, cronCfg: cronCfg, config: cfg, log: log}
}

// Run starts the daemon: binds the socket, schedules maintenance, and
// blocks until a shutdown signal or the idle timeout fires.
func (d *Daemon) Run() error {
	socketPath := d.config.socketPath()
	pidPath := d.config.pidPath()

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	if conn, err := net.DialTimeout("unix", socketPath, time.Second); err == nil {
		conn.Close()
		return fmt.Errorf("daemon already running at %s", socketPath)
	}
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	d.listener = listener

	os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644)

	d.startCron()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	idleTimeout := d.config.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 5 * time.Minute
	}
	idleTimer := time.NewTimer(idleTimeout)

	done := make(chan struct{})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if d.shuttingDown.Load() {
					return
				}
				continue
			}
			idleTimer.Reset(idleTimeout)
			d.wg.Add(1)
			d.handleConnection(conn)
			d.wg.Done()
		}
	}()

	go func() {
		select {
		case <-sigCh:
			d.log.Info("daemon received shutdown signal")
		case <-idleTimer.C:
			d.log.Info("daemon idle timeout reached")
		}
		close(done)
	}()

	<-done
	d.Shutdown()
	return nil
}

// Shutdown gracefully stops the daemon, waiting for the in-flight
// request (if any) to finish.
func (d *Daemon) Shutdown() {
	if !d.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	if d.cron != nil {
		d.cron.Stop()
	}
	if d.listener != nil {
		d.listener.Close()
	}
	d.wg.Wait()

	os.Remove(d.config.socketPath())
	os.Remove(d.config.pidPath())

	if err := d.stores.Close(); err != nil {
		d.log.Error("error closing stores", "error", err)
	}
}

func strOrSensible(schedule string) string {
	if schedule == "" {
		return "0 */6 * * *"
	}
	return schedule
}

// startCron schedules the periodic maintenance sweeps: checkpoint
// expiry, auto-fix rate-window pruning, and audit trace rotation is
// handled by lumberjack itself.
func (d *Daemon) startCron() {
	d.cron = cron.New()
	schedule := strOrSensible(d.cronCfg.Schedule)
	_, err := d.cron.AddFunc(schedule, func() {
		d.runMaintenance()
	})
	if err != nil {
		d.log.Error("invalid cron schedule, maintenance disabled", "schedule", schedule, "error", err)
		return
	}
	d.cron.Start()
}

func (d *Daemon) runMaintenance() {
	checkpointDays := d.cronCfg.CheckpointRetentionDays
	if checkpointDays == 0 {
		checkpointDays = 30
	}
	rateDays := d.cronCfg.RateLimitRetentionDays
	if rateDays == 0 {
		rateDays = 7
	}

	removed, err := d.stores.Checkpoints.CleanupOld(checkpointDays)
	if err != nil {
		d.log.Error("checkpoint cleanup failed", "error", err)
	} else {
		d.log.Info("checkpoint cleanup complete", "removed", removed)
	}

	pruned, err := d.stores.AutoFix.Cleanup(rateDays)
	if err != nil {
		d.log.Error("autofix rate window cleanup failed", "error", err)
	} else {
		d.log.Info("autofix cleanup complete", "pruned", pruned)
	}
}

// --- process control helpers ---

func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func ProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
