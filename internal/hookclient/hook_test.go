package hookclient

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestReadInputParsesToolCall(t *testing.T) {
	raw := `{"session_id":"s1","tool_name":"Bash","tool_input":{"command":"git status"},"cwd":"/tmp/proj"}`
	input, err := ReadInput(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadInput: %v", err)
	}
	if input.ToolName != "Bash" {
		t.Errorf("ToolName = %s, want Bash", input.ToolName)
	}
	if input.WorkingDir != "/tmp/proj" {
		t.Errorf("WorkingDir = %s, want /tmp/proj", input.WorkingDir)
	}
}

func TestShouldSkipEvaluationReadOnlyTools(t *testing.T) {
	if !shouldSkipEvaluation("Read") {
		t.Error("Read should be skipped")
	}
	if shouldSkipEvaluation("Bash") {
		t.Error("Bash should not be skipped")
	}
}

func TestAllowOutputEncodesExpectedShape(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteOutput(&buf, AllowOutput()); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	hso, ok := decoded["hookSpecificOutput"].(map[string]any)
	if !ok {
		t.Fatal("missing hookSpecificOutput")
	}
	if hso["hookEventName"] != "PermissionRequest" {
		t.Errorf("hookEventName = %v, want PermissionRequest", hso["hookEventName"])
	}
	decision, ok := hso["decision"].(map[string]any)
	if !ok {
		t.Fatal("missing decision")
	}
	if decision["behavior"] != "allow" {
		t.Errorf("behavior = %v, want allow", decision["behavior"])
	}
}
