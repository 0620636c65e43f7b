package daemon

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/followthedavid/samguard/internal/audit"
	"github.com/followthedavid/samguard/internal/autofix"
	"github.com/followthedavid/samguard/internal/checkpoint"
	"github.com/followthedavid/samguard/internal/permissions"
	"github.com/followthedavid/samguard/internal/rpcproto"
)

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(35 * time.Second))

	req, err := rpcproto.ReadRequest(conn)
	if err != nil {
		rpcproto.WriteResponse(conn, rpcproto.Err(fmt.Errorf("decode request: %w", err)))
		return
	}

	resp := d.dispatch(req)
	if err := rpcproto.WriteResponse(conn, resp); err != nil {
		d.log.Error("failed to write response", "op", req.Op, "error", err)
	}
}

func (d *Daemon) dispatch(req rpcproto.Request) rpcproto.Response {
	switch req.Op {
	case rpcproto.OpCanExecute:
		return d.handleCanExecute(req)
	case rpcproto.OpCanModifyPath:
		return d.handleCanModifyPath(req)
	case rpcproto.OpGetPermissions:
		return d.handleGetPermissions(req)
	case rpcproto.OpSetPermissions:
		return d.handleSetPermissions(req)
	case rpcproto.OpGetDefaults:
		return d.handleGetDefaults()
	case rpcproto.OpSetDefaults:
		return d.handleSetDefaults(req)
	case rpcproto.OpApplyPreset:
		return d.handleApplyPreset(req)
	case rpcproto.OpListProjects:
		return d.handleListProjects()
	case rpcproto.OpPermissionAudit:
		return d.handlePermissionAudit(req)

	case rpcproto.OpCheckpointCreate:
		return d.handleCheckpointCreate(req)
	case rpcproto.OpCheckpointAddFileBackup:
		return d.handleCheckpointAddFileBackup(req)
	case rpcproto.OpCheckpointAddCommandLog:
		return d.handleCheckpointAddCommandLog(req)
	case rpcproto.OpCheckpointRollback:
		return d.handleCheckpointRollback(req)
	case rpcproto.OpCheckpointList:
		return d.handleCheckpointList(req)
	case rpcproto.OpCheckpointDetails:
		return d.handleCheckpointDetails(req)
	case rpcproto.OpCheckpointCleanupOld:
		return d.handleCheckpointCleanupOld(req)

	case rpcproto.OpLogExecution:
		return d.handleLogExecution(req)
	case rpcproto.OpExecutionsRecent:
		return d.handleExecutionsRecent(req)
	case rpcproto.OpExecutionsByProject:
		return d.handleExecutionsByProject(req)
	case rpcproto.OpExecutionStats:
		return d.handleExecutionStats()
	case rpcproto.OpExecutionExport:
		return d.handleExecutionExport(req)
	case rpcproto.OpMarkRolledBack:
		return d.handleMarkRolledBack(req)

	case rpcproto.OpAutoFixGetPermissions:
		return d.handleAutoFixGetPermissions(req)
	case rpcproto.OpAutoFixSetPermissions:
		return d.handleAutoFixSetPermissions(req)
	case rpcproto.OpAutoFixCanAutoFix:
		return d.handleAutoFixCanAutoFix(req)
	case rpcproto.OpAutoFixShouldReview:
		return d.handleAutoFixShouldReview(req)
	case rpcproto.OpAutoFixRateStatus:
		return d.handleAutoFixRateStatus(req)
	case rpcproto.OpAutoFixRecordFix:
		return d.handleAutoFixRecordFix(req)
	case rpcproto.OpAutoFixStats:
		return d.handleAutoFixStats(req)
	case rpcproto.OpAutoFixCleanup:
		return d.handleAutoFixCleanup(req)

	default:
		return rpcproto.Err(fmt.Errorf("unknown op: %s", req.Op))
	}
}

func (d *Daemon) handleCanExecute(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CanExecuteArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	result, err := d.stores.Engine.CanExecute(args.ProjectID, args.ProjectRoot, args.Command)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(rpcproto.EvalResult{Decision: string(result.Decision), Reason: result.Reason})
}

func (d *Daemon) handleCanModifyPath(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CanModifyPathArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	result, err := d.stores.Engine.CanModifyPath(args.ProjectID, args.ProjectRoot, args.Path)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(rpcproto.EvalResult{Decision: string(result.Decision), Reason: result.Reason})
}

func (d *Daemon) handleGetPermissions(req rpcproto.Request) rpcproto.Response {
	var args struct {
		ProjectID   string `json:"project_id"`
		ProjectRoot string `json:"project_root"`
	}
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	p, err := d.stores.Permissions.Get(args.ProjectID, args.ProjectRoot)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(p)
}

func (d *Daemon) handleSetPermissions(req rpcproto.Request) rpcproto.Response {
	var p permissions.ProjectPermissions
	if err := req.Decode(&p); err != nil {
		return rpcproto.Err(err)
	}
	if err := d.stores.Permissions.Set(p); err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(nil)
}

func (d *Daemon) handleGetDefaults() rpcproto.Response {
	p, err := d.stores.Permissions.GetDefaults()
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(p)
}

func (d *Daemon) handleSetDefaults(req rpcproto.Request) rpcproto.Response {
	var p permissions.ProjectPermissions
	if err := req.Decode(&p); err != nil {
		return rpcproto.Err(err)
	}
	if err := d.stores.Permissions.SetDefaults(p); err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(nil)
}

func (d *Daemon) handleApplyPreset(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.ApplyPresetArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	p, err := d.stores.Permissions.ApplyPreset(args.ProjectID, permissions.Preset(args.Preset))
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(p)
}

func (d *Daemon) handleListProjects() rpcproto.Response {
	projects, err := d.stores.Permissions.ListProjects()
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(projects)
}

func (d *Daemon) handlePermissionAudit(req rpcproto.Request) rpcproto.Response {
	var args struct {
		ProjectID string `json:"project_id"`
		Limit     int    `json:"limit"`
	}
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	entries, err := d.stores.Permissions.Audit(args.ProjectID, args.Limit)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(entries)
}

func (d *Daemon) handleCheckpointCreate(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CheckpointCreateArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	id, err := d.stores.Checkpoints.Create(args.ProjectID, args.Description)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(rpcproto.CheckpointCreateResult{CheckpointID: id})
}

func (d *Daemon) handleCheckpointAddFileBackup(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CheckpointAddFileBackupArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	if err := d.stores.Checkpoints.AddFileBackup(args.CheckpointID, args.Path); err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(nil)
}

func (d *Daemon) handleCheckpointAddCommandLog(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CheckpointAddCommandLogArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	result := checkpoint.CommandResult{Success: args.Success, Stdout: args.Output, Stderr: args.Error}
	if err := d.stores.Checkpoints.AddCommandLog(args.CheckpointID, args.Command, result, args.Duration()); err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(nil)
}

func (d *Daemon) handleCheckpointRollback(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CheckpointIDArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	result, err := d.stores.Checkpoints.Rollback(args.CheckpointID)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(result)
}

func (d *Daemon) handleCheckpointList(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CheckpointListArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	infos, err := d.stores.Checkpoints.List(args.ProjectID, args.Limit)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(infos)
}

func (d *Daemon) handleCheckpointDetails(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CheckpointIDArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	details, err := d.stores.Checkpoints.Details(args.CheckpointID)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(details)
}

func (d *Daemon) handleCheckpointCleanupOld(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CleanupOldArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	removed, err := d.stores.Checkpoints.CleanupOld(args.Days)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(rpcproto.CleanupOldResult{Removed: removed})
}

func (d *Daemon) handleLogExecution(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.LogExecutionArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	result := audit.Result{Success: args.Success, Output: args.Output, Error: args.Error}
	id, err := d.stores.Audit.LogExecution(args.ApprovalID, args.ProjectID, args.Command, result, args.Duration())
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(rpcproto.LogExecutionResult{ID: id})
}

func (d *Daemon) handleExecutionsRecent(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.RecentArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	records, err := d.stores.Audit.Recent(args.Limit)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(records)
}

func (d *Daemon) handleExecutionsByProject(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.ByProjectArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	records, err := d.stores.Audit.ByProject(args.ProjectID, args.Limit)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(records)
}

func (d *Daemon) handleExecutionStats() rpcproto.Response {
	stats, err := d.stores.Audit.Stats()
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(stats)
}

func (d *Daemon) handleExecutionExport(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.ExportJSONArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	data, err := d.stores.Audit.ExportJSON(time.Unix(args.StartUnix, 0).UTC(), time.Unix(args.EndUnix, 0).UTC())
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(json.RawMessage(data))
}

func (d *Daemon) handleMarkRolledBack(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.MarkRolledBackArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	changed, err := d.stores.Audit.MarkRolledBack(args.ApprovalID)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(rpcproto.MarkRolledBackResult{Changed: changed})
}

func (d *Daemon) handleAutoFixGetPermissions(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.ProjectArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	p, err := d.stores.AutoFix.GetPermissions(args.ProjectID)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(p)
}

func (d *Daemon) handleAutoFixSetPermissions(req rpcproto.Request) rpcproto.Response {
	var p autofix.Permissions
	if err := req.Decode(&p); err != nil {
		return rpcproto.Err(err)
	}
	if err := d.stores.AutoFix.SetPermissions(p); err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(nil)
}

func toIssue(i rpcproto.AutoFixIssue) autofix.DetectedIssue {
	return autofix.DetectedIssue{
		ID:           i.ID,
		IssueType:    i.IssueType,
		FilePath:     i.FilePath,
		Line:         i.Line,
		Col:          i.Col,
		Message:      i.Message,
		SuggestedFix: i.SuggestedFix,
		OriginalCode: i.OriginalCode,
		Confidence:   i.Confidence,
		Severity:     i.Severity,
		Context:      i.Context,
	}
}

func (d *Daemon) handleAutoFixCanAutoFix(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.AutoFixCanFixArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	allowed, reason := d.stores.AutoFix.CanAutoFix(args.ProjectID, toIssue(args.Issue))
	return rpcproto.OK(rpcproto.AutoFixCanFixResult{Allowed: allowed, Reason: reason})
}

func (d *Daemon) handleAutoFixShouldReview(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.AutoFixShouldReviewArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	issues := make([]autofix.DetectedIssue, 0, len(args.Issues))
	for _, i := range args.Issues {
		issues = append(issues, toIssue(i))
	}
	required, reason := d.stores.AutoFix.ShouldRequireReview(args.ProjectID, issues)
	return rpcproto.OK(rpcproto.AutoFixShouldReviewResult{Required: required, Reason: reason})
}

func (d *Daemon) handleAutoFixRateStatus(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.ProjectArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	status, err := d.stores.AutoFix.RateStatus(args.ProjectID)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(status)
}

func (d *Daemon) handleAutoFixRecordFix(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.AutoFixRecordFixArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	result := autofix.FixResult{
		IssueID:      args.Result.IssueID,
		Status:       autofix.FixStatus(args.Result.Status),
		AppliedFix:   args.Result.AppliedFix,
		OriginalCode: args.Result.OriginalCode,
		Error:        args.Result.Error,
		Reverted:     args.Result.Reverted,
		RevertReason: args.Result.RevertReason,
		CommitSHA:    args.Result.CommitSHA,
	}
	if err := d.stores.AutoFix.RecordFix(args.ProjectID, toIssue(args.Issue), result); err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(nil)
}

func (d *Daemon) handleAutoFixStats(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.ProjectArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	stats, err := d.stores.AutoFix.Stats(args.ProjectID)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(stats)
}

func (d *Daemon) handleAutoFixCleanup(req rpcproto.Request) rpcproto.Response {
	var args rpcproto.CleanupOldArgs
	if err := req.Decode(&args); err != nil {
		return rpcproto.Err(err)
	}
	removed, err := d.stores.AutoFix.Cleanup(args.Days)
	if err != nil {
		return rpcproto.Err(err)
	}
	return rpcproto.OK(rpcproto.CleanupOldResult{Removed: removed})
}
