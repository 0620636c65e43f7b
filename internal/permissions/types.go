// Package permissions implements the Permission Store and Permission
// Engine: durable per-project policy and the decision logic that combines
// it with command classification and path validation.
package permissions

import "time"

// NotificationLevel governs user-visible alerts only; it never gates a
// decision.
type NotificationLevel string

const (
	NotifyAll           NotificationLevel = "all"
	NotifyModerateUp    NotificationLevel = "moderate_up"
	NotifyDangerousOnly NotificationLevel = "dangerous_only"
	NotifyNone          NotificationLevel = "none"
)

// ProjectPermissions is the authoritative policy for one project id.
type ProjectPermissions struct {
	ProjectID string `json:"project_id"`

	AllowSafeAutoExecute      bool `json:"allow_safe_auto_execute"`
	AllowModerateWithApproval bool `json:"allow_moderate_with_approval"`
	BlockDangerous            bool `json:"block_dangerous"`
	RequireDryRunFirst        bool `json:"require_dry_run_first"`
	AutoRollbackOnError       bool `json:"auto_rollback_on_error"`

	AllowedCommands []string `json:"allowed_commands"`
	BlockedCommands []string `json:"blocked_commands"`
	AllowedPaths    []string `json:"allowed_paths"`
	BlockedPaths    []string `json:"blocked_paths"`

	MaxTimeoutSeconds int `json:"max_timeout_seconds"`

	NotificationLevel NotificationLevel `json:"notification_level"`
	Notes             string            `json:"notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clampTimeout bounds MaxTimeoutSeconds to [1, 3600].
func (p *ProjectPermissions) clampTimeout() {
	if p.MaxTimeoutSeconds < 1 {
		p.MaxTimeoutSeconds = 1
	}
	if p.MaxTimeoutSeconds > 3600 {
		p.MaxTimeoutSeconds = 3600
	}
}

// Clone returns a deep copy with project_id overwritten.
func (p ProjectPermissions) Clone(projectID string) ProjectPermissions {
	clone := p
	clone.ProjectID = projectID
	clone.AllowedCommands = append([]string(nil), p.AllowedCommands...)
	clone.BlockedCommands = append([]string(nil), p.BlockedCommands...)
	clone.AllowedPaths = append([]string(nil), p.AllowedPaths...)
	clone.BlockedPaths = append([]string(nil), p.BlockedPaths...)
	return clone
}

// Decision is the Permission Engine's outcome enum.
type Decision string

const (
	AutoExecute      Decision = "auto_execute"
	ApprovalRequired Decision = "approval_required"
	Denied           Decision = "denied"
)

// EvalResult is the result of a can_execute/can_modify_path call.
type EvalResult struct {
	Decision Decision
	Reason   string
}

// Preset names the four built-in starting points for ProjectPermissions.
type Preset string

const (
	PresetStrict      Preset = "strict"
	PresetNormal      Preset = "normal"
	PresetPermissive  Preset = "permissive"
	PresetDevelopment Preset = "development"
)

// DefaultPermissions returns the Normal preset values, used both as the
// process-wide default row and as the starting point for apply_preset.
func DefaultPermissions() ProjectPermissions {
	now := time.Now().UTC()
	p := ProjectPermissions{
		AllowSafeAutoExecute:      true,
		AllowModerateWithApproval: true,
		BlockDangerous:            true,
		RequireDryRunFirst:        false,
		AutoRollbackOnError:       true,
		MaxTimeoutSeconds:         120,
		NotificationLevel:         NotifyModerateUp,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	p.clampTimeout()
	return p
}

// ApplyPreset returns a copy of base with preset values applied.
func ApplyPreset(base ProjectPermissions, preset Preset) ProjectPermissions {
	p := base.Clone(base.ProjectID)
	switch preset {
	case PresetStrict:
		p.AllowSafeAutoExecute = false
		p.AllowModerateWithApproval = true
		p.BlockDangerous = true
		p.RequireDryRunFirst = true
		p.NotificationLevel = NotifyAll
	case PresetNormal:
		p.AllowSafeAutoExecute = true
		p.AllowModerateWithApproval = true
		p.BlockDangerous = true
		p.RequireDryRunFirst = false
		p.NotificationLevel = NotifyModerateUp
	case PresetPermissive:
		p.AllowSafeAutoExecute = true
		p.AllowModerateWithApproval = true
		p.BlockDangerous = false
		p.RequireDryRunFirst = false
		p.NotificationLevel = NotifyDangerousOnly
	case PresetDevelopment:
		p.AllowSafeAutoExecute = true
		p.AllowModerateWithApproval = true
		p.BlockDangerous = false
		p.RequireDryRunFirst = false
		p.NotificationLevel = NotifyDangerousOnly
		p.AllowedCommands = append(p.AllowedCommands, "git push", "git reset --hard", "git clean -fd")
	}
	p.clampTimeout()
	p.UpdatedAt = time.Now().UTC()
	return p
}

// AuditEntry is an append-only permission-check record (§4.F's
// permission_audit_log, distinct from the execution audit log).
type AuditEntry struct {
	ID            int64
	Timestamp     time.Time
	ProjectID     string
	Kind          string // execute, modify_path, classify
	Subject       string
	RiskLevel     string
	Allowed       bool
	Reason        string
	DurationMS    *int64
	ExitCode      *int
	OutputPreview string
}
