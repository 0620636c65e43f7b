package checkpoint

import (
	"compress/gzip"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/followthedavid/samguard/internal/dbutil"
)

//go:embed schema.sql
var schemaSQL string

// Store is the durable Checkpoint & Rollback Store.
//
// All database writes, and AddFileBackup's compression and path-mapping
// update, go through mu, so backups into one checkpoint are serialized.
// CleanupOld deletes backup directories in parallel across checkpoints.
type Store struct {
	db        *sql.DB
	mu        sync.Mutex
	backupDir string
}

// Open opens the checkpoint database at dbPath, storing file backups under
// backupDir/<checkpoint-id>/.
func Open(dbPath, backupDir string) (*Store, error) {
	db, err := dbutil.Open(dbPath, schemaSQL)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("create backup root: %w", err)
	}
	return &Store{db: db, backupDir: backupDir}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) checkpointDir(id string) string {
	return filepath.Join(s.backupDir, id)
}

// Create inserts a new Active checkpoint row and its backup directory.
func (s *Store) Create(projectID, description string) (string, error) {
	id := uuid.New().String()
	if err := os.MkdirAll(s.checkpointDir(id), 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO checkpoints
		(id, project_id, description, created_at, status, files_backed_up, commands_executed)
		VALUES (?, ?, ?, ?, ?, '[]', '[]')`,
		id, projectID, description, now.Format(time.RFC3339Nano), Active)
	if err != nil {
		return "", err
	}
	return id, nil
}

// escapeName deterministically maps an absolute path to a flat filename:
// path separators become "__". A path whose names already contain "__" can
// map to the same filename as a path with a separator in that place.
func escapeName(absPath string) string {
	name := strings.ReplaceAll(absPath, "\\", "__")
	name = strings.ReplaceAll(name, "/", "__")
	return strings.TrimPrefix(name, "__") + ".gz"
}

// AddFileBackup gzip-compresses path into the checkpoint's backup
// directory and records the mapping. Refuses non-existent or non-regular
// inputs.
func (s *Store) AddFileBackup(checkpointID, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", absPath)
	}

	dir := s.checkpointDir(checkpointID)
	safeName := escapeName(absPath)
	dest := filepath.Join(dir, safeName)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := compressFile(absPath, dest); err != nil {
		return fmt.Errorf("compress %s: %w", absPath, err)
	}

	if err := updatePathMapping(dir, safeName, absPath); err != nil {
		return fmt.Errorf("update path mapping: %w", err)
	}

	cp, err := s.getLocked(checkpointID)
	if err != nil {
		return err
	}
	cp.FileBackups = append(cp.FileBackups, FileBackup{OriginalPath: absPath, CompressedBlobRef: safeName})
	return s.saveFileBackupsLocked(checkpointID, cp.FileBackups)
}

func compressFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// updatePathMapping atomically rewrites path_mapping.json in dir, adding
// escaped -> original.
func updatePathMapping(dir, escaped, original string) error {
	mapPath := filepath.Join(dir, "path_mapping.json")
	mapping := map[string]string{}
	if data, err := os.ReadFile(mapPath); err == nil {
		json.Unmarshal(data, &mapping)
	}
	mapping[escaped] = original

	data, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return err
	}
	tmp := mapPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, mapPath)
}

// AddCommandLog appends a command execution record to a checkpoint.
func (s *Store) AddCommandLog(checkpointID, command string, result CommandResult, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, err := s.getLocked(checkpointID)
	if err != nil {
		return err
	}
	cp.CommandsExecuted = append(cp.CommandsExecuted, CommandLog{
		Command:    command,
		Success:    result.Success,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ExitCode:   result.ExitCode,
		Metadata:   result.Metadata,
		Timestamp:  time.Now().UTC(),
		DurationMS: duration.Milliseconds(),
	})
	data, err := json.Marshal(cp.CommandsExecuted)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE checkpoints SET commands_executed = ? WHERE id = ?`, string(data), checkpointID)
	return err
}

func (s *Store) saveFileBackupsLocked(checkpointID string, backups []FileBackup) error {
	data, err := json.Marshal(backups)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE checkpoints SET files_backed_up = ? WHERE id = ?`, string(data), checkpointID)
	return err
}

// Rollback restores every backed-up file to its original location. A
// failure on any single file is captured in Errors and marks the result
// Partial; the checkpoint row is always marked RolledBack afterward.
func (s *Store) Rollback(checkpointID string) (RollbackResult, error) {
	dir := s.checkpointDir(checkpointID)
	mapPath := filepath.Join(dir, "path_mapping.json")

	result := RollbackResult{}

	data, err := os.ReadFile(mapPath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("read path mapping: %v", err))
		result.Partial = true
	} else {
		var mapping map[string]string
		if err := json.Unmarshal(data, &mapping); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("parse path mapping: %v", err))
			result.Partial = true
		} else {
			for escaped, original := range mapping {
				if err := restoreOne(filepath.Join(dir, escaped), original); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", original, err))
					result.Partial = true
					continue
				}
				result.FilesRestored = append(result.FilesRestored, original)
			}
		}
	}

	result.Success = len(result.FilesRestored) > 0 || !result.Partial

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	_, err = s.db.Exec(`UPDATE checkpoints SET status = ?, rolled_back_at = ? WHERE id = ?`,
		RolledBack, now.Format(time.RFC3339Nano), checkpointID)
	if err != nil {
		return result, err
	}
	return result, nil
}

func restoreOne(blobPath, originalPath string) error {
	in, err := os.Open(blobPath)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()

	if err := os.MkdirAll(filepath.Dir(originalPath), 0o755); err != nil {
		return err
	}

	tmp := originalPath + ".samguard-restore.tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, originalPath)
}

// List returns up to limit checkpoints for a project, most recent first,
// with backup-size accounting summed from the on-disk .gz blobs.
func (s *Store) List(projectID string, limit int) ([]Info, error) {
	rows, err := s.db.Query(`SELECT id, project_id, description, created_at, status, rolled_back_at,
		files_backed_up, commands_executed FROM checkpoints WHERE project_id = ?
		ORDER BY created_at DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{Checkpoint: *cp, BackupSizeBytes: s.backupSize(cp.ID)})
	}
	return infos, rows.Err()
}

func (s *Store) backupSize(id string) int64 {
	entries, err := os.ReadDir(s.checkpointDir(id))
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".gz") {
			if info, err := e.Info(); err == nil {
				total += info.Size()
			}
		}
	}
	return total
}

// Details returns the full record for one checkpoint.
func (s *Store) Details(checkpointID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(checkpointID)
}

func (s *Store) getLocked(checkpointID string) (*Checkpoint, error) {
	row := s.db.QueryRow(`SELECT id, project_id, description, created_at, status, rolled_back_at,
		files_backed_up, commands_executed FROM checkpoints WHERE id = ?`, checkpointID)
	return scanCheckpoint(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var createdAt string
	var rolledBackAt sql.NullString
	var filesJSON, commandsJSON string
	var status string
	if err := row.Scan(&cp.ID, &cp.ProjectID, &cp.Description, &createdAt, &status,
		&rolledBackAt, &filesJSON, &commandsJSON); err != nil {
		return nil, err
	}
	cp.Status = Status(status)
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if rolledBackAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, rolledBackAt.String)
		cp.RolledBackAt = &t
	}
	json.Unmarshal([]byte(filesJSON), &cp.FileBackups)
	json.Unmarshal([]byte(commandsJSON), &cp.CommandsExecuted)
	return &cp, nil
}

// CleanupOld removes checkpoints older than days whose status is not
// RolledBack (preserving evidence of rollbacks), deleting backup
// directories in parallel across checkpoints and returning the count
// removed.
func (s *Store) CleanupOld(days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.db.Query(`SELECT id FROM checkpoints WHERE created_at < ? AND status != ?`,
		cutoff.Format(time.RFC3339Nano), RolledBack)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			os.RemoveAll(s.checkpointDir(id))
			return nil
		})
	}
	g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range ids {
		if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE id = ?`, id); err == nil {
			removed++
		}
	}
	return removed, nil
}
