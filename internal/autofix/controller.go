package autofix

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/followthedavid/samguard/internal/dbutil"
)

//go:embed schema.sql
var schemaSQL string

// Controller is the durable Auto-Fix Controller.
type Controller struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens the auto-fix database at dbPath.
func Open(dbPath string) (*Controller, error) {
	db, err := dbutil.Open(dbPath, schemaSQL)
	if err != nil {
		return nil, err
	}
	return &Controller{db: db}, nil
}

func (c *Controller) Close() error { return c.db.Close() }

func hourBucket(t time.Time) int64 {
	return t.UTC().Truncate(time.Hour).Unix()
}

// GetPermissions returns a project's auto-fix policy, seeding the
// conservative default on first access.
func (c *Controller) GetPermissions(projectID string) (Permissions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.db.QueryRow(`SELECT enabled, dry_run, auto_commit, allowed_fix_types, blocked_fix_types,
		allowed_file_patterns, blocked_file_patterns, min_confidence, max_fixes_per_file,
		max_fixes_per_hour, require_review_threshold FROM permissions WHERE project_id = ?`, projectID)

	var p Permissions
	p.ProjectID = projectID
	var allowedTypes, blockedTypes, allowedPatterns, blockedPatterns string
	err := row.Scan(&p.Enabled, &p.DryRun, &p.AutoCommit, &allowedTypes, &blockedTypes,
		&allowedPatterns, &blockedPatterns, &p.MinConfidence, &p.MaxFixesPerFile,
		&p.MaxFixesPerHour, &p.RequireReviewThreshold)
	if err == sql.ErrNoRows {
		defaults := DefaultPermissions(projectID)
		if setErr := c.setPermissionsLocked(defaults); setErr != nil {
			return Permissions{}, setErr
		}
		return defaults, nil
	}
	if err != nil {
		return Permissions{}, err
	}
	json.Unmarshal([]byte(allowedTypes), &p.AllowedFixTypes)
	json.Unmarshal([]byte(blockedTypes), &p.BlockedFixTypes)
	json.Unmarshal([]byte(allowedPatterns), &p.AllowedFilePatterns)
	json.Unmarshal([]byte(blockedPatterns), &p.BlockedFilePatterns)
	return p, nil
}

// SetPermissions persists a project's auto-fix policy.
func (c *Controller) SetPermissions(p Permissions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setPermissionsLocked(p)
}

func (c *Controller) setPermissionsLocked(p Permissions) error {
	allowedTypes, _ := json.Marshal(p.AllowedFixTypes)
	blockedTypes, _ := json.Marshal(p.BlockedFixTypes)
	allowedPatterns, _ := json.Marshal(p.AllowedFilePatterns)
	blockedPatterns, _ := json.Marshal(p.BlockedFilePatterns)

	_, err := c.db.Exec(`INSERT INTO permissions
		(project_id, enabled, dry_run, auto_commit, allowed_fix_types, blocked_fix_types,
		 allowed_file_patterns, blocked_file_patterns, min_confidence, max_fixes_per_file,
		 max_fixes_per_hour, require_review_threshold)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			enabled=excluded.enabled, dry_run=excluded.dry_run, auto_commit=excluded.auto_commit,
			allowed_fix_types=excluded.allowed_fix_types, blocked_fix_types=excluded.blocked_fix_types,
			allowed_file_patterns=excluded.allowed_file_patterns,
			blocked_file_patterns=excluded.blocked_file_patterns,
			min_confidence=excluded.min_confidence, max_fixes_per_file=excluded.max_fixes_per_file,
			max_fixes_per_hour=excluded.max_fixes_per_hour,
			require_review_threshold=excluded.require_review_threshold`,
		p.ProjectID, p.Enabled, p.DryRun, p.AutoCommit, string(allowedTypes), string(blockedTypes),
		string(allowedPatterns), string(blockedPatterns), p.MinConfidence, p.MaxFixesPerFile,
		p.MaxFixesPerHour, p.RequireReviewThreshold)
	return err
}

// CanAutoFix runs the §4.G ordered gate sequence; the first failing gate's
// reason is returned.
func (c *Controller) CanAutoFix(projectID string, issue DetectedIssue) (bool, string) {
	perms, err := c.GetPermissions(projectID)
	if err != nil {
		return false, fmt.Sprintf("failed to load permissions: %v", err)
	}

	if !perms.Enabled {
		return false, "disabled"
	}
	if perms.DryRun {
		return false, "dry-run mode"
	}
	if containsString(perms.BlockedFixTypes, issue.IssueType) {
		return false, "issue type is blocked: " + issue.IssueType
	}
	if len(perms.AllowedFixTypes) > 0 && !containsString(perms.AllowedFixTypes, issue.IssueType) {
		return false, "issue type is not in the allowed list: " + issue.IssueType
	}
	if matched, reason := matchesFilePatterns(issue.FilePath, perms.AllowedFilePatterns, perms.BlockedFilePatterns); !matched {
		return false, reason
	}
	if issue.Confidence < perms.MinConfidence {
		return false, fmt.Sprintf("confidence %.2f below minimum %.2f", issue.Confidence, perms.MinConfidence)
	}

	now := time.Now()
	projectCount, err := c.rateCount(projectID, now)
	if err != nil {
		return false, fmt.Sprintf("failed to read rate window: %v", err)
	}
	if projectCount >= perms.MaxFixesPerHour {
		return false, fmt.Sprintf("project rate limit reached: %d/%d fixes this hour", projectCount, perms.MaxFixesPerHour)
	}

	fileCount, err := c.fileRateCount(projectID, issue.FilePath, now)
	if err != nil {
		return false, fmt.Sprintf("failed to read file rate window: %v", err)
	}
	if fileCount >= perms.MaxFixesPerFile {
		return false, fmt.Sprintf("file rate limit reached: %d/%d fixes this hour", fileCount, perms.MaxFixesPerFile)
	}

	skip, reason, err := c.shouldSkipFile(projectID, issue.FilePath)
	if err != nil {
		return false, fmt.Sprintf("failed to read file failure history: %v", err)
	}
	if skip {
		return false, reason
	}

	return true, "all gates passed"
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func matchesFilePatterns(path string, allowed, blocked []string) (bool, string) {
	for _, pattern := range blocked {
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return false, "file matches a blocked pattern: " + pattern
		}
		if ok, _ := filepath.Match(pattern, path); ok {
			return false, "file matches a blocked pattern: " + pattern
		}
	}
	if len(allowed) == 0 {
		return true, ""
	}
	for _, pattern := range allowed {
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return true, ""
		}
		if ok, _ := filepath.Match(pattern, path); ok {
			return true, ""
		}
	}
	return false, "file does not match any allowed pattern"
}

func (c *Controller) rateCount(projectID string, at time.Time) (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT fix_count FROM rate_limits WHERE project_id = ? AND window_start = ?`,
		projectID, hourBucket(at)).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

func (c *Controller) fileRateCount(projectID, filePath string, at time.Time) (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT fix_count FROM file_fix_counts
		WHERE project_id = ? AND file_path = ? AND window_start = ?`,
		projectID, filePath, hourBucket(at)).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// shouldSkipFile reports whether a file has accumulated too many recent
// failures or reverts (>=3 failures or >=2 reverts in the last 24 hours).
func (c *Controller) shouldSkipFile(projectID, filePath string) (bool, string, error) {
	since := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339Nano)

	var failures int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM fix_results
		WHERE project_id = ? AND file_path = ? AND status = ? AND applied_at >= ?`,
		projectID, filePath, FixFailed, since).Scan(&failures); err != nil {
		return false, "", err
	}
	if failures >= 3 {
		return true, fmt.Sprintf("file has %d failures in the last 24 hours", failures), nil
	}

	var reverts int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM fix_results
		WHERE project_id = ? AND file_path = ? AND reverted = 1 AND applied_at >= ?`,
		projectID, filePath, since).Scan(&reverts); err != nil {
		return false, "", err
	}
	if reverts >= 2 {
		return true, fmt.Sprintf("file has %d reverts in the last 24 hours", reverts), nil
	}

	return false, "", nil
}

// ShouldRequireReview reports whether a batch of issues needs human review
// before auto-fixing: batch size at/above the threshold, any confidence
// below 0.7, or any issue of a security type.
func (c *Controller) ShouldRequireReview(projectID string, issues []DetectedIssue) (bool, string) {
	perms, err := c.GetPermissions(projectID)
	if err != nil {
		return true, fmt.Sprintf("failed to load permissions: %v", err)
	}
	if len(issues) >= perms.RequireReviewThreshold {
		return true, fmt.Sprintf("batch size %d meets review threshold %d", len(issues), perms.RequireReviewThreshold)
	}
	for _, issue := range issues {
		if issue.Confidence < 0.7 {
			return true, "an issue has confidence below 0.7: " + issue.ID
		}
		if securityIssueTypes[issue.IssueType] {
			return true, "an issue is a security-sensitive type: " + issue.IssueType
		}
	}
	return false, ""
}

// RecordFix dispatches on result.Status, updating rate windows and the
// file-failure tracker.
func (c *Controller) RecordFix(projectID string, issue DetectedIssue, result FixResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if result.AppliedAt.IsZero() {
		result.AppliedAt = now.UTC()
	}

	_, err := c.db.Exec(`INSERT INTO fix_results
		(issue_id, project_id, file_path, status, applied_fix, original_code, error,
		 applied_at, reverted, revert_reason, commit_sha)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, projectID, issue.FilePath, result.Status, result.AppliedFix, result.OriginalCode,
		result.Error, result.AppliedAt.Format(time.RFC3339Nano), result.Reverted, result.RevertReason,
		result.CommitSHA)
	if err != nil {
		return err
	}

	switch result.Status {
	case FixSuccess:
		if err := c.incrementRateLocked(projectID, issue.FilePath, now); err != nil {
			return err
		}
	case FixReverted:
		if _, err := c.db.Exec(`UPDATE fix_results SET reverted = 1 WHERE issue_id = ? AND status = ?`,
			issue.ID, FixSuccess); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) incrementRateLocked(projectID, filePath string, at time.Time) error {
	bucket := hourBucket(at)
	if _, err := c.db.Exec(`INSERT INTO rate_limits (project_id, window_start, fix_count)
		VALUES (?, ?, 1)
		ON CONFLICT(project_id, window_start) DO UPDATE SET fix_count = fix_count + 1`,
		projectID, bucket); err != nil {
		return err
	}
	_, err := c.db.Exec(`INSERT INTO file_fix_counts (project_id, file_path, window_start, fix_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(project_id, file_path, window_start) DO UPDATE SET fix_count = fix_count + 1`,
		projectID, filePath, bucket)
	return err
}

// RateStatus reports current-hour consumption for a project.
func (c *Controller) RateStatus(projectID string) (RateStatus, error) {
	perms, err := c.GetPermissions(projectID)
	if err != nil {
		return RateStatus{}, err
	}
	now := time.Now()
	count, err := c.rateCount(projectID, now)
	if err != nil {
		return RateStatus{}, err
	}
	return RateStatus{
		FixesThisHour: count,
		Limit:         perms.MaxFixesPerHour,
		WindowStart:   time.Unix(hourBucket(now), 0).UTC(),
	}, nil
}

// Stats aggregates fix outcomes for a project.
func (c *Controller) Stats(projectID string) (Stats, error) {
	var stats Stats
	rows, err := c.db.Query(`SELECT status, COUNT(*) FROM fix_results WHERE project_id = ? GROUP BY status`, projectID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.TotalFixes += count
		switch FixStatus(status) {
		case FixSuccess:
			stats.SuccessCount = count
		case FixFailed:
			stats.FailedCount = count
		case FixSkipped:
			stats.SkippedCount = count
		case FixReverted:
			stats.RevertedCount = count
		}
	}
	if stats.TotalFixes > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalFixes)
	}
	return stats, rows.Err()
}

// Cleanup removes rate-window rows older than the retention period (in
// days), returning the count removed.
func (c *Controller) Cleanup(retentionDays int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Unix()

	res1, err := c.db.Exec(`DELETE FROM rate_limits WHERE window_start < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	res2, err := c.db.Exec(`DELETE FROM file_fix_counts WHERE window_start < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n1, _ := res1.RowsAffected()
	n2, _ := res2.RowsAffected()
	return int(n1 + n2), nil
}

// RenderDiff produces an inline diff between a suggested fix and the code
// it would replace, with ANSI colour codes marking insertions and deletions.
func RenderDiff(original, fix string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, fix, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.DiffPrettyText(diffs)
}
