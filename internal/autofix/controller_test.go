package autofix

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "autofix.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func enable(t *testing.T, c *Controller, projectID string, mutate func(*Permissions)) Permissions {
	t.Helper()
	p, err := c.GetPermissions(projectID)
	if err != nil {
		t.Fatalf("GetPermissions: %v", err)
	}
	p.Enabled = true
	p.DryRun = false
	mutate(&p)
	if err := c.SetPermissions(p); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	return p
}

func TestDisabledDeniesRegardless(t *testing.T) {
	c := newTestController(t)
	issue := DetectedIssue{ID: "i1", IssueType: "Lint", FilePath: "x.go", Confidence: 0.99}

	ok, reason := c.CanAutoFix("demo", issue)
	if ok {
		t.Fatal("expected denial when disabled")
	}
	if reason != "disabled" {
		t.Fatalf("reason = %q, want \"disabled\"", reason)
	}
}

func TestBlockedBeatsAllowedFixType(t *testing.T) {
	c := newTestController(t)
	enable(t, c, "demo", func(p *Permissions) {
		p.AllowedFixTypes = []string{"Lint"}
		p.BlockedFixTypes = []string{"Lint"}
	})
	issue := DetectedIssue{ID: "i1", IssueType: "Lint", FilePath: "x.go", Confidence: 0.99}

	ok, _ := c.CanAutoFix("demo", issue)
	if ok {
		t.Fatal("expected denial when issue type is both allowed and blocked")
	}
}

// S5 — Auto-fix rate limit.
func TestScenarioRateLimit(t *testing.T) {
	c := newTestController(t)
	enable(t, c, "demo", func(p *Permissions) {
		p.MaxFixesPerHour = 2
		p.MaxFixesPerFile = 100
		p.MinConfidence = 0
	})

	issue := DetectedIssue{ID: "i1", IssueType: "Lint", FilePath: "x.go", Confidence: 0.99}
	for i := 0; i < 2; i++ {
		if err := c.RecordFix("demo", issue, FixResult{IssueID: issue.ID, Status: FixSuccess}); err != nil {
			t.Fatalf("RecordFix: %v", err)
		}
	}

	ok, reason := c.CanAutoFix("demo", issue)
	if ok {
		t.Fatal("expected rate limit denial")
	}
	if !contains(reason, "rate") || !contains(reason, "2/2") {
		t.Fatalf("reason = %q, want mention of rate and 2/2", reason)
	}
}

func TestRecordFixOnlySuccessIncrements(t *testing.T) {
	c := newTestController(t)
	enable(t, c, "demo", func(p *Permissions) {})

	issue := DetectedIssue{ID: "i1", IssueType: "Lint", FilePath: "x.go", Confidence: 0.99}
	c.RecordFix("demo", issue, FixResult{IssueID: issue.ID, Status: FixFailed, Error: "boom"})
	c.RecordFix("demo", issue, FixResult{IssueID: issue.ID, Status: FixSkipped})

	status, err := c.RateStatus("demo")
	if err != nil {
		t.Fatalf("RateStatus: %v", err)
	}
	if status.FixesThisHour != 0 {
		t.Fatalf("FixesThisHour = %d, want 0 (only Success increments)", status.FixesThisHour)
	}
}

func TestFileFailureHistorySkipsAfterThreeFailures(t *testing.T) {
	c := newTestController(t)
	enable(t, c, "demo", func(p *Permissions) { p.MinConfidence = 0 })

	issue := DetectedIssue{ID: "i1", IssueType: "Lint", FilePath: "flaky.go", Confidence: 0.99}
	for i := 0; i < 3; i++ {
		c.RecordFix("demo", issue, FixResult{IssueID: issue.ID, Status: FixFailed, Error: "nope", AppliedAt: time.Now().UTC()})
	}

	ok, reason := c.CanAutoFix("demo", issue)
	if ok {
		t.Fatal("expected denial after 3 failures in 24h")
	}
	if !contains(reason, "failures") {
		t.Fatalf("reason = %q, want mention of failures", reason)
	}
}

func TestShouldRequireReviewSecurityType(t *testing.T) {
	c := newTestController(t)
	enable(t, c, "demo", func(p *Permissions) { p.RequireReviewThreshold = 100 })

	issues := []DetectedIssue{{ID: "i1", IssueType: "HardcodedSecret", Confidence: 0.99}}
	required, _ := c.ShouldRequireReview("demo", issues)
	if !required {
		t.Fatal("expected security-type issue to require review regardless of threshold")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
