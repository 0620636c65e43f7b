package rpcproto

import "time"

// CanExecuteArgs / CanModifyPathArgs back OpCanExecute / OpCanModifyPath.
type CanExecuteArgs struct {
	ProjectID   string `json:"project_id"`
	ProjectRoot string `json:"project_root"`
	Command     string `json:"command"`
}

type CanModifyPathArgs struct {
	ProjectID   string `json:"project_id"`
	ProjectRoot string `json:"project_root"`
	Path        string `json:"path"`
}

// EvalResult mirrors permissions.EvalResult for wire transport.
type EvalResult struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// ProjectArgs is the common shape for single-project-id requests.
type ProjectArgs struct {
	ProjectID string `json:"project_id"`
}

type ApplyPresetArgs struct {
	ProjectID string `json:"project_id"`
	Preset    string `json:"preset"`
}

// CheckpointCreateArgs / Result back OpCheckpointCreate.
type CheckpointCreateArgs struct {
	ProjectID   string `json:"project_id"`
	Description string `json:"description"`
}

type CheckpointCreateResult struct {
	CheckpointID string `json:"checkpoint_id"`
}

type CheckpointAddFileBackupArgs struct {
	CheckpointID string `json:"checkpoint_id"`
	Path         string `json:"path"`
}

type CheckpointAddCommandLogArgs struct {
	CheckpointID string `json:"checkpoint_id"`
	Command      string `json:"command"`
	Success      bool   `json:"success"`
	Output       string `json:"output"`
	Error        string `json:"error"`
	DurationMS   int64  `json:"duration_ms"`
}

func (a CheckpointAddCommandLogArgs) Duration() time.Duration {
	return time.Duration(a.DurationMS) * time.Millisecond
}

type CheckpointIDArgs struct {
	CheckpointID string `json:"checkpoint_id"`
}

type CheckpointListArgs struct {
	ProjectID string `json:"project_id"`
	Limit     int    `json:"limit"`
}

type CleanupOldArgs struct {
	Days int `json:"days"`
}

type CleanupOldResult struct {
	Removed int `json:"removed"`
}

// LogExecutionArgs backs OpLogExecution.
type LogExecutionArgs struct {
	ApprovalID string `json:"approval_id"`
	ProjectID  string `json:"project_id"`
	Command    string `json:"command"`
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

func (a LogExecutionArgs) Duration() time.Duration {
	return time.Duration(a.DurationMS) * time.Millisecond
}

type LogExecutionResult struct {
	ID int64 `json:"id"`
}

type RecentArgs struct {
	Limit int `json:"limit"`
}

type ByProjectArgs struct {
	ProjectID string `json:"project_id"`
	Limit     int    `json:"limit"`
}

type ExportJSONArgs struct {
	StartUnix int64 `json:"start_unix"`
	EndUnix   int64 `json:"end_unix"`
}

type MarkRolledBackArgs struct {
	ApprovalID string `json:"approval_id"`
}

type MarkRolledBackResult struct {
	Changed bool `json:"changed"`
}

// AutoFixCanFixArgs backs OpAutoFixCanAutoFix.
type AutoFixCanFixArgs struct {
	ProjectID string       `json:"project_id"`
	Issue     AutoFixIssue `json:"issue"`
}

// AutoFixIssue mirrors autofix.DetectedIssue for wire transport.
type AutoFixIssue struct {
	ID           string  `json:"id"`
	IssueType    string  `json:"issue_type"`
	FilePath     string  `json:"file_path"`
	Line         int     `json:"line"`
	Col          int     `json:"col"`
	Message      string  `json:"message"`
	SuggestedFix string  `json:"suggested_fix"`
	OriginalCode string  `json:"original_code"`
	Confidence   float64 `json:"confidence"`
	Severity     string  `json:"severity"`
	Context      string  `json:"context"`
}

type AutoFixCanFixResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

type AutoFixShouldReviewArgs struct {
	ProjectID string         `json:"project_id"`
	Issues    []AutoFixIssue `json:"issues"`
}

type AutoFixShouldReviewResult struct {
	Required bool   `json:"required"`
	Reason   string `json:"reason"`
}

type AutoFixRecordFixArgs struct {
	ProjectID string           `json:"project_id"`
	Issue     AutoFixIssue     `json:"issue"`
	Result    AutoFixFixResult `json:"result"`
}

// AutoFixFixResult mirrors autofix.FixResult for wire transport.
type AutoFixFixResult struct {
	IssueID      string `json:"issue_id"`
	Status       string `json:"status"`
	AppliedFix   string `json:"applied_fix"`
	OriginalCode string `json:"original_code"`
	Error        string `json:"error"`
	Reverted     bool   `json:"reverted"`
	RevertReason string `json:"revert_reason"`
	CommitSHA    string `json:"commit_sha"`
}
