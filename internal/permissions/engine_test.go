package permissions

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "permissions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// S1 — Safe git status on default project.
func TestScenarioSafeGitStatus(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)

	result, err := e.CanExecute("demo", "", "git status")
	if err != nil {
		t.Fatalf("CanExecute: %v", err)
	}
	if result.Decision != AutoExecute {
		t.Fatalf("decision = %s, want AutoExecute", result.Decision)
	}

	entries, err := s.Audit("demo", 10)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(entries) != 1 || !entries[0].Allowed || entries[0].RiskLevel != "safe" {
		t.Fatalf("expected one safe/allowed audit row, got %+v", entries)
	}
}

// S2 — Forbidden rm under Permissive policy.
func TestScenarioForbiddenUnderPermissive(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)

	if _, err := s.ApplyPreset("demo", PresetPermissive); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}

	result, err := e.CanExecute("demo", "", "rm -rf /")
	if err != nil {
		t.Fatalf("CanExecute: %v", err)
	}
	if result.Decision != Denied {
		t.Fatalf("decision = %s, want Denied", result.Decision)
	}
}

// S4 — Sensitive path blocked even if explicitly allowed.
func TestScenarioSensitivePathBlocked(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)

	perms, err := s.Get("demo", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	perms.AllowedPaths = []string{"/"}
	if err := s.Set(perms); err != nil {
		t.Fatalf("Set: %v", err)
	}

	result, err := e.CanModifyPath("demo", "", "~/.ssh/id_rsa")
	if err != nil {
		t.Fatalf("CanModifyPath: %v", err)
	}
	if result.Decision != Denied {
		t.Fatalf("decision = %s, want Denied", result.Decision)
	}
}

func TestBlockDangerousInvariant(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)

	perms, _ := s.Get("demo", "")
	perms.BlockDangerous = true
	s.Set(perms)

	result, err := e.CanExecute("demo", "", "git push origin main")
	if err != nil {
		t.Fatalf("CanExecute: %v", err)
	}
	if result.Decision != Denied {
		t.Fatalf("decision = %s, want Denied when block_dangerous is true", result.Decision)
	}
}

func TestApplyPresetDevelopmentAllowsGitPush(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s)

	if _, err := s.ApplyPreset("demo", PresetDevelopment); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}

	result, err := e.CanExecute("demo", "", "git push origin main")
	if err != nil {
		t.Fatalf("CanExecute: %v", err)
	}
	if result.Decision != AutoExecute {
		t.Fatalf("decision = %s, want AutoExecute under Development preset allow-list", result.Decision)
	}
}

func TestProjectLocalOverrideIsAbsolute(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()
	samDir := filepath.Join(root, ".sam")
	if err := os.MkdirAll(samDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	override := `{"allow_safe_auto_execute": false, "allow_moderate_with_approval": false,
		"block_dangerous": true, "require_dry_run_first": false, "auto_rollback_on_error": false,
		"allowed_commands": [], "blocked_commands": [], "allowed_paths": [], "blocked_paths": [],
		"max_timeout_seconds": 30, "notification_level": "all", "notes": "override",
		"created_at": "2026-01-01T00:00:00Z", "updated_at": "2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(filepath.Join(samDir, "permissions.json"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	perms, err := s.Get("demo", root)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if perms.AllowSafeAutoExecute {
		t.Fatal("expected project-local override to win over defaults")
	}
	if perms.MaxTimeoutSeconds != 30 {
		t.Fatalf("max_timeout_seconds = %d, want 30", perms.MaxTimeoutSeconds)
	}
}
