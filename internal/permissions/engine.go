package permissions

import (
	"github.com/followthedavid/samguard/internal/classifier"
	"github.com/followthedavid/samguard/internal/pathvalidator"
)

// Engine combines command classification and path validation with stored
// policy to produce allow/approve/deny decisions, logging every call.
type Engine struct {
	store *Store
}

// NewEngine builds a Permission Engine backed by store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// CanExecute runs the §4.D decision table for a proposed command.
//
// The decision logged to audit for ApprovalRequired is allowed=true: the
// gate approved the action conditional on a human confirming out of band.
// A human's later rejection is recorded by the caller as a Skipped
// execution via the audit log, never as a retroactive edit of this row.
func (e *Engine) CanExecute(projectID, projectRoot, command string) (EvalResult, error) {
	perms, err := e.store.Get(projectID, projectRoot)
	if err != nil {
		return EvalResult{}, err
	}

	cls := classifier.New(perms.AllowedCommands, perms.BlockedCommands)
	classification := cls.Classify(command)

	result := decide(perms, classification)

	if _, err := e.store.AppendAudit(AuditEntry{
		ProjectID: projectID,
		Kind:      "execute",
		Subject:   command,
		RiskLevel: classification.Risk.String(),
		Allowed:   result.Decision != Denied,
		Reason:    result.Reason,
	}); err != nil {
		return EvalResult{}, err
	}
	return result, nil
}

func decide(perms ProjectPermissions, c classifier.Classification) EvalResult {
	switch c.Risk {
	case classifier.Forbidden:
		return EvalResult{Decision: Denied, Reason: "FORBIDDEN: " + c.Reason}
	case classifier.Dangerous:
		if perms.BlockDangerous {
			return EvalResult{Decision: Denied, Reason: "dangerous command blocked by policy: " + c.Reason}
		}
		return EvalResult{Decision: ApprovalRequired, Reason: "dangerous command requires approval: " + c.Reason}
	case classifier.Moderate:
		if perms.AllowModerateWithApproval {
			return EvalResult{Decision: ApprovalRequired, Reason: "moderate command requires approval: " + c.Reason}
		}
		return EvalResult{Decision: Denied, Reason: "moderate commands not permitted by policy: " + c.Reason}
	case classifier.Safe:
		if perms.AllowSafeAutoExecute {
			return EvalResult{Decision: AutoExecute, Reason: "safe command: " + c.Reason}
		}
		return EvalResult{Decision: ApprovalRequired, Reason: "safe command requires approval by policy: " + c.Reason}
	default:
		return EvalResult{Decision: Denied, Reason: "unrecognized risk level"}
	}
}

// CanModifyPath runs the Path Validator and always logs at Moderate risk —
// path writes are never classified Safe.
func (e *Engine) CanModifyPath(projectID, projectRoot, path string) (EvalResult, error) {
	perms, err := e.store.Get(projectID, projectRoot)
	if err != nil {
		return EvalResult{}, err
	}

	v := pathvalidator.Validate(path, projectRoot, perms.AllowedPaths, perms.BlockedPaths)

	result := EvalResult{Decision: Denied, Reason: v.Reason}
	if v.Valid {
		result = decide(perms, classifier.Classification{Risk: classifier.Moderate, Reason: v.Reason})
	}

	if _, err := e.store.AppendAudit(AuditEntry{
		ProjectID: projectID,
		Kind:      "modify_path",
		Subject:   path,
		RiskLevel: classifier.Moderate.String(),
		Allowed:   result.Decision != Denied,
		Reason:    result.Reason,
	}); err != nil {
		return EvalResult{}, err
	}
	return result, nil
}
