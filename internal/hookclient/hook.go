// Package hookclient implements the Claude-Code-style PermissionRequest
// hook: read a tool call from stdin, ask the samguard daemon whether it is
// allowed, and emit an allow/passthrough decision on stdout.
package hookclient

import (
	"encoding/json"
	"io"
)

// Input matches Claude Code's PermissionRequest hook input.
type Input struct {
	SessionID  string          `json:"session_id"`
	ToolName   string          `json:"tool_name"`
	ToolInput  json.RawMessage `json:"tool_input"`
	WorkingDir string          `json:"cwd"`
}

// Output for PermissionRequest uses the hookSpecificOutput envelope.
type Output struct {
	HookSpecificOutput *SpecificOutput `json:"hookSpecificOutput,omitempty"`
}

type SpecificOutput struct {
	HookEventName string    `json:"hookEventName"`
	Decision      *Decision `json:"decision,omitempty"`
}

type Decision struct {
	Behavior string `json:"behavior"` // "allow" or "deny"
	Message  string `json:"message,omitempty"`
}

// skipEvaluationTools are tools with no side effects worth classifying:
// plan-mode flow, user prompts, task bookkeeping, read-only tools, and
// subagent dispatch.
var skipEvaluationTools = map[string]bool{
	"ExitPlanMode":  true,
	"EnterPlanMode": true,

	"AskUserQuestion": true,

	"TaskCreate": true,
	"TaskUpdate": true,
	"TaskList":   true,
	"TaskGet":    true,
	"TaskStop":   true,
	"TaskOutput": true,

	"Read":      true,
	"Glob":      true,
	"Grep":      true,
	"WebFetch":  true,
	"WebSearch": true,

	"Task":  true,
	"Skill": true,
}

func shouldSkipEvaluation(toolName string) bool {
	return skipEvaluationTools[toolName]
}

// ReadInput decodes a hook Input from r (normally os.Stdin).
func ReadInput(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var input Input
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return &input, nil
}

// AllowOutput builds the hookSpecificOutput envelope signaling approval.
func AllowOutput() Output {
	return Output{
		HookSpecificOutput: &SpecificOutput{
			HookEventName: "PermissionRequest",
			Decision:      &Decision{Behavior: "allow"},
		},
	}
}

// WriteOutput encodes an Output to w (normally os.Stdout).
func WriteOutput(w io.Writer, out Output) error {
	return json.NewEncoder(w).Encode(out)
}
