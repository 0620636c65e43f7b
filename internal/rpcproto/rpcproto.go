// Package rpcproto defines the wire protocol spoken between the samguard
// daemon and its clients (the hook client and the CLI) over a Unix domain
// socket: one JSON request, one JSON response, per connection.
package rpcproto

import (
	"encoding/json"
	"fmt"
	"io"
)

// Op names the operation a Request invokes. One Op per daemon-hosted
// store method in §6 of the external interface surface.
type Op string

const (
	OpCanExecute      Op = "can_execute"
	OpCanModifyPath   Op = "can_modify_path"
	OpGetPermissions  Op = "permissions.get"
	OpSetPermissions  Op = "permissions.set"
	OpGetDefaults     Op = "permissions.get_defaults"
	OpSetDefaults     Op = "permissions.set_defaults"
	OpApplyPreset     Op = "permissions.apply_preset"
	OpListProjects    Op = "permissions.list_projects"
	OpPermissionAudit Op = "permissions.audit"

	OpCheckpointCreate        Op = "checkpoint.create"
	OpCheckpointAddFileBackup Op = "checkpoint.add_file_backup"
	OpCheckpointAddCommandLog Op = "checkpoint.add_command_log"
	OpCheckpointRollback      Op = "checkpoint.rollback"
	OpCheckpointList          Op = "checkpoint.list"
	OpCheckpointDetails       Op = "checkpoint.details"
	OpCheckpointCleanupOld    Op = "checkpoint.cleanup_old"

	OpLogExecution        Op = "executions.log"
	OpExecutionsRecent    Op = "executions.recent"
	OpExecutionsByProject Op = "executions.by_project"
	OpExecutionStats      Op = "executions.stats"
	OpExecutionExport     Op = "executions.export_json"
	OpMarkRolledBack      Op = "executions.mark_rolled_back"

	OpAutoFixGetPermissions Op = "autofix.get_permissions"
	OpAutoFixSetPermissions Op = "autofix.set_permissions"
	OpAutoFixCanAutoFix     Op = "autofix.can_auto_fix"
	OpAutoFixShouldReview   Op = "autofix.should_require_review"
	OpAutoFixRateStatus     Op = "autofix.rate_status"
	OpAutoFixRecordFix      Op = "autofix.record_fix"
	OpAutoFixStats          Op = "autofix.stats"
	OpAutoFixCleanup        Op = "autofix.cleanup"
)

// Request is the envelope sent from client to daemon. Payload carries
// op-specific arguments, deferred-decoded by the handler.
type Request struct {
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope sent from daemon to client.
type Response struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewRequest marshals args into a Request's payload.
func NewRequest(op Op, args any) (Request, error) {
	if args == nil {
		return Request{Op: op}, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return Request{}, fmt.Errorf("marshal request payload: %w", err)
	}
	return Request{Op: op, Payload: b}, nil
}

// OK builds a success Response, marshaling result into its payload.
func OK(result any) Response {
	if result == nil {
		return Response{OK: true}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return Response{OK: false, Error: fmt.Sprintf("marshal response payload: %v", err)}
	}
	return Response{OK: true, Payload: b}
}

// Err builds a failure Response.
func Err(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// WriteRequest writes a newline-terminated JSON request; no length prefix
// is needed since each connection carries exactly one request.
func WriteRequest(w io.Writer, req Request) error {
	return json.NewEncoder(w).Encode(req)
}

// ReadRequest reads a single JSON request.
func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// WriteResponse writes a single JSON response.
func WriteResponse(w io.Writer, resp Response) error {
	return json.NewEncoder(w).Encode(resp)
}

// ReadResponse reads a single JSON response.
func ReadResponse(r io.Reader) (Response, error) {
	var resp Response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Decode unmarshals a Request's payload into dst.
func (r Request) Decode(dst any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, dst)
}

// Decode unmarshals a Response's payload into dst. Returns the response's
// Error as a plain error if OK is false.
func (r Response) Decode(dst any) error {
	if !r.OK {
		return fmt.Errorf("rpc: %s", r.Error)
	}
	if len(r.Payload) == 0 || dst == nil {
		return nil
	}
	return json.Unmarshal(r.Payload, dst)
}
