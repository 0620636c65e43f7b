// Package checkpoint implements the Checkpoint & Rollback Store: atomic
// save points with compressed file backups and crash-safe restore.
package checkpoint

import "time"

// Status is a checkpoint's lifecycle state.
type Status string

const (
	Active     Status = "active"
	RolledBack Status = "rolled_back"
	Expired    Status = "expired"
)

// CommandLog is one command executed within a checkpoint's window.
type CommandLog struct {
	Command    string            `json:"command"`
	Success    bool              `json:"success"`
	Stdout     string            `json:"stdout"`
	Stderr     string            `json:"stderr"`
	ExitCode   int               `json:"exit_code"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	DurationMS int64             `json:"duration_ms"`
}

// CommandResult is the outcome of running one command, as reported by the
// caller (the core itself never executes commands).
type CommandResult struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Metadata map[string]string
}

// FileBackup records one file captured into a checkpoint's backup tree.
type FileBackup struct {
	OriginalPath      string `json:"original_path"`
	CompressedBlobRef string `json:"compressed_blob_ref"`
}

// Checkpoint is one snapshot.
type Checkpoint struct {
	ID               string
	ProjectID        string
	Description      string
	CreatedAt        time.Time
	Status           Status
	RolledBackAt     *time.Time
	FileBackups      []FileBackup
	CommandsExecuted []CommandLog
}

// Info is a checkpoint record plus its on-disk backup size, for list views.
type Info struct {
	Checkpoint
	BackupSizeBytes int64
}

// RollbackResult is the outcome of restoring a checkpoint.
type RollbackResult struct {
	Success       bool
	Partial       bool
	FilesRestored []string
	Errors        []string
}
