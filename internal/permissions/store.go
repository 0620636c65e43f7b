package permissions

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/followthedavid/samguard/internal/dbutil"
)

//go:embed schema.sql
var schemaSQL string

// overrideCacheEntry holds a parsed project-local override and the mtime it
// was loaded at, so a live fsnotify watch can invalidate it cheaply.
type overrideCacheEntry struct {
	perms   ProjectPermissions
	modTime time.Time
}

// Store is the durable Permission Store: project_permissions,
// default_permissions, and permission_audit_log, plus project-local JSON
// override lookup (§4.C).
type Store struct {
	db *sql.DB
	mu sync.Mutex

	watcher       *fsnotify.Watcher
	overrideMu    sync.RWMutex
	overrideDirs  map[string]struct{}
	overrideCache map[string]overrideCacheEntry
}

// Open opens (creating if necessary) the permissions database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := dbutil.Open(dbPath, schemaSQL)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:            db,
		overrideDirs:  make(map[string]struct{}),
		overrideCache: make(map[string]overrideCacheEntry),
	}
	if w, err := fsnotify.NewWatcher(); err == nil {
		s.watcher = w
		go s.watchLoop()
	}
	return s, nil
}

// Close releases the database handle and the override-file watcher.
func (s *Store) Close() error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	return s.db.Close()
}

func (s *Store) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				s.overrideMu.Lock()
				delete(s.overrideCache, ev.Name)
				s.overrideMu.Unlock()
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// overridePath is the fixed candidate location for a project's version
// controlled permission override.
func overridePath(projectRoot string) string {
	return filepath.Join(projectRoot, ".sam", "permissions.json")
}

// WatchProjectRoot registers a project root's override file for live
// invalidation. Safe to call repeatedly.
func (s *Store) WatchProjectRoot(projectRoot string) {
	if s.watcher == nil || projectRoot == "" {
		return
	}
	dir := filepath.Join(projectRoot, ".sam")
	s.overrideMu.Lock()
	defer s.overrideMu.Unlock()
	if _, ok := s.overrideDirs[dir]; ok {
		return
	}
	if err := s.watcher.Add(dir); err == nil {
		s.overrideDirs[dir] = struct{}{}
	}
}

// loadOverride returns a project-local override if one is present and
// parsable at <projectRoot>/.sam/permissions.json. The override is
// absolute: it is returned as-is, never merged with the database row.
func (s *Store) loadOverride(projectRoot, projectID string) (*ProjectPermissions, error) {
	if projectRoot == "" {
		return nil, nil
	}
	path := overridePath(projectRoot)
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil
	}

	s.overrideMu.RLock()
	cached, ok := s.overrideCache[path]
	s.overrideMu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		p := cached.perms
		return &p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project override %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse project override %s: %w", path, err)
	}
	if err := rejectUnknownFields(raw); err != nil {
		return nil, fmt.Errorf("project override %s: %w", path, err)
	}

	var p ProjectPermissions
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse project override %s: %w", path, err)
	}
	p.ProjectID = projectID
	p.clampTimeout()

	s.WatchProjectRoot(projectRoot)
	s.overrideMu.Lock()
	s.overrideCache[path] = overrideCacheEntry{perms: p, modTime: info.ModTime()}
	s.overrideMu.Unlock()

	return &p, nil
}

var knownOverrideFields = map[string]bool{
	"allow_safe_auto_execute": true, "allow_moderate_with_approval": true,
	"block_dangerous": true, "require_dry_run_first": true, "auto_rollback_on_error": true,
	"allowed_commands": true, "blocked_commands": true,
	"allowed_paths": true, "blocked_paths": true,
	"max_timeout_seconds": true, "notification_level": true, "notes": true,
	"created_at": true, "updated_at": true,
}

func rejectUnknownFields(raw map[string]json.RawMessage) error {
	for k := range raw {
		if !knownOverrideFields[k] {
			return fmt.Errorf("unknown field %q", k)
		}
	}
	return nil
}

// Get implements the §4.C lookup order: project-local override, then the
// database row, then the process-wide defaults.
func (s *Store) Get(projectID, projectRoot string) (ProjectPermissions, error) {
	override, err := s.loadOverride(projectRoot, projectID)
	if err != nil {
		return ProjectPermissions{}, err
	}
	if override != nil {
		return *override, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.getRow(projectID)
	if err != nil {
		return ProjectPermissions{}, err
	}
	if row != nil {
		return *row, nil
	}

	defaults, err := s.getDefaultsLocked()
	if err != nil {
		return ProjectPermissions{}, err
	}
	return defaults.Clone(projectID), nil
}

func (s *Store) getRow(projectID string) (*ProjectPermissions, error) {
	row := s.db.QueryRow(`SELECT project_id, allow_safe_auto_execute, allow_moderate_with_approval,
		block_dangerous, require_dry_run_first, auto_rollback_on_error,
		allowed_commands, blocked_commands, allowed_paths, blocked_paths,
		max_timeout_seconds, notification_level, notes, created_at, updated_at
		FROM project_permissions WHERE project_id = ?`, projectID)
	p, err := scanPermissions(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermissions(row rowScanner) (*ProjectPermissions, error) {
	var p ProjectPermissions
	var allowedCmds, blockedCmds, allowedPaths, blockedPaths string
	var createdAt, updatedAt string
	var notifLevel string
	err := row.Scan(&p.ProjectID, &p.AllowSafeAutoExecute, &p.AllowModerateWithApproval,
		&p.BlockDangerous, &p.RequireDryRunFirst, &p.AutoRollbackOnError,
		&allowedCmds, &blockedCmds, &allowedPaths, &blockedPaths,
		&p.MaxTimeoutSeconds, &notifLevel, &p.Notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.NotificationLevel = NotificationLevel(notifLevel)
	json.Unmarshal([]byte(allowedCmds), &p.AllowedCommands)
	json.Unmarshal([]byte(blockedCmds), &p.BlockedCommands)
	json.Unmarshal([]byte(allowedPaths), &p.AllowedPaths)
	json.Unmarshal([]byte(blockedPaths), &p.BlockedPaths)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// Set always writes to the database; project-local overrides are managed
// by the user outside this code and are never written here.
func (s *Store) Set(p ProjectPermissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.clampTimeout()
	p.UpdatedAt = time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}

	allowedCmds, _ := json.Marshal(p.AllowedCommands)
	blockedCmds, _ := json.Marshal(p.BlockedCommands)
	allowedPaths, _ := json.Marshal(p.AllowedPaths)
	blockedPaths, _ := json.Marshal(p.BlockedPaths)

	_, err := s.db.Exec(`INSERT INTO project_permissions
		(project_id, allow_safe_auto_execute, allow_moderate_with_approval, block_dangerous,
		 require_dry_run_first, auto_rollback_on_error, allowed_commands, blocked_commands,
		 allowed_paths, blocked_paths, max_timeout_seconds, notification_level, notes,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			allow_safe_auto_execute=excluded.allow_safe_auto_execute,
			allow_moderate_with_approval=excluded.allow_moderate_with_approval,
			block_dangerous=excluded.block_dangerous,
			require_dry_run_first=excluded.require_dry_run_first,
			auto_rollback_on_error=excluded.auto_rollback_on_error,
			allowed_commands=excluded.allowed_commands,
			blocked_commands=excluded.blocked_commands,
			allowed_paths=excluded.allowed_paths,
			blocked_paths=excluded.blocked_paths,
			max_timeout_seconds=excluded.max_timeout_seconds,
			notification_level=excluded.notification_level,
			notes=excluded.notes,
			updated_at=excluded.updated_at`,
		p.ProjectID, p.AllowSafeAutoExecute, p.AllowModerateWithApproval, p.BlockDangerous,
		p.RequireDryRunFirst, p.AutoRollbackOnError, string(allowedCmds), string(blockedCmds),
		string(allowedPaths), string(blockedPaths), p.MaxTimeoutSeconds, string(p.NotificationLevel),
		p.Notes, p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	return err
}

// GetDefaults returns the single process-wide defaults row, seeding it with
// the Normal preset on first access.
func (s *Store) GetDefaults() (ProjectPermissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDefaultsLocked()
}

func (s *Store) getDefaultsLocked() (ProjectPermissions, error) {
	row := s.db.QueryRow(`SELECT allow_safe_auto_execute, allow_moderate_with_approval,
		block_dangerous, require_dry_run_first, auto_rollback_on_error,
		allowed_commands, blocked_commands, allowed_paths, blocked_paths,
		max_timeout_seconds, notification_level, notes, created_at, updated_at
		FROM default_permissions WHERE id = 1`)

	var p ProjectPermissions
	var allowedCmds, blockedCmds, allowedPaths, blockedPaths, notifLevel, createdAt, updatedAt string
	err := row.Scan(&p.AllowSafeAutoExecute, &p.AllowModerateWithApproval, &p.BlockDangerous,
		&p.RequireDryRunFirst, &p.AutoRollbackOnError, &allowedCmds, &blockedCmds,
		&allowedPaths, &blockedPaths, &p.MaxTimeoutSeconds, &notifLevel, &p.Notes,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		defaults := DefaultPermissions()
		if setErr := s.setDefaultsLocked(defaults); setErr != nil {
			return ProjectPermissions{}, setErr
		}
		return defaults, nil
	}
	if err != nil {
		return ProjectPermissions{}, err
	}
	p.NotificationLevel = NotificationLevel(notifLevel)
	json.Unmarshal([]byte(allowedCmds), &p.AllowedCommands)
	json.Unmarshal([]byte(blockedCmds), &p.BlockedCommands)
	json.Unmarshal([]byte(allowedPaths), &p.AllowedPaths)
	json.Unmarshal([]byte(blockedPaths), &p.BlockedPaths)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return p, nil
}

// SetDefaults replaces the single process-wide defaults row.
func (s *Store) SetDefaults(p ProjectPermissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setDefaultsLocked(p)
}

func (s *Store) setDefaultsLocked(p ProjectPermissions) error {
	p.clampTimeout()
	p.UpdatedAt = time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	allowedCmds, _ := json.Marshal(p.AllowedCommands)
	blockedCmds, _ := json.Marshal(p.BlockedCommands)
	allowedPaths, _ := json.Marshal(p.AllowedPaths)
	blockedPaths, _ := json.Marshal(p.BlockedPaths)

	_, err := s.db.Exec(`INSERT INTO default_permissions
		(id, allow_safe_auto_execute, allow_moderate_with_approval, block_dangerous,
		 require_dry_run_first, auto_rollback_on_error, allowed_commands, blocked_commands,
		 allowed_paths, blocked_paths, max_timeout_seconds, notification_level, notes,
		 created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			allow_safe_auto_execute=excluded.allow_safe_auto_execute,
			allow_moderate_with_approval=excluded.allow_moderate_with_approval,
			block_dangerous=excluded.block_dangerous,
			require_dry_run_first=excluded.require_dry_run_first,
			auto_rollback_on_error=excluded.auto_rollback_on_error,
			allowed_commands=excluded.allowed_commands,
			blocked_commands=excluded.blocked_commands,
			allowed_paths=excluded.allowed_paths,
			blocked_paths=excluded.blocked_paths,
			max_timeout_seconds=excluded.max_timeout_seconds,
			notification_level=excluded.notification_level,
			notes=excluded.notes,
			updated_at=excluded.updated_at`,
		p.AllowSafeAutoExecute, p.AllowModerateWithApproval, p.BlockDangerous,
		p.RequireDryRunFirst, p.AutoRollbackOnError, string(allowedCmds), string(blockedCmds),
		string(allowedPaths), string(blockedPaths), p.MaxTimeoutSeconds, string(p.NotificationLevel),
		p.Notes, p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	return err
}

// ApplyPreset loads the current record, applies preset, and persists it.
func (s *Store) ApplyPreset(projectID string, preset Preset) (ProjectPermissions, error) {
	current, err := s.Get(projectID, "")
	if err != nil {
		return ProjectPermissions{}, err
	}
	updated := ApplyPreset(current, preset)
	if err := s.Set(updated); err != nil {
		return ProjectPermissions{}, err
	}
	return updated, nil
}

// ListProjects returns every project id with an explicit database row.
func (s *Store) ListProjects() ([]string, error) {
	rows, err := s.db.Query(`SELECT project_id FROM project_permissions ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendAudit inserts one permission_audit_log row and returns its id.
func (s *Store) AppendAudit(e AuditEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`INSERT INTO permission_audit_log
		(timestamp, project_id, kind, subject, risk_level, allowed, reason, duration_ms, exit_code, output_preview)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), e.ProjectID, e.Kind, e.Subject, e.RiskLevel,
		e.Allowed, e.Reason, e.DurationMS, e.ExitCode, e.OutputPreview)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Audit returns recent audit rows, optionally scoped to one project.
func (s *Store) Audit(projectID string, limit int) ([]AuditEntry, error) {
	var rows *sql.Rows
	var err error
	if projectID != "" {
		rows, err = s.db.Query(`SELECT id, timestamp, project_id, kind, subject, risk_level,
			allowed, reason, duration_ms, exit_code, output_preview
			FROM permission_audit_log WHERE project_id = ? ORDER BY id DESC LIMIT ?`, projectID, limit)
	} else {
		rows, err = s.db.Query(`SELECT id, timestamp, project_id, kind, subject, risk_level,
			allowed, reason, duration_ms, exit_code, output_preview
			FROM permission_audit_log ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.ProjectID, &e.Kind, &e.Subject, &e.RiskLevel,
			&e.Allowed, &e.Reason, &e.DurationMS, &e.ExitCode, &e.OutputPreview); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
