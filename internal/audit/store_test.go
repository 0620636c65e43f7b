package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "audit.db"), filepath.Join(dir, "trace.log"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogExecutionStatusInference(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.LogExecution("", "demo", "git status", Result{Success: true}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("LogExecution success: %v", err)
	}
	id2, err := s.LogExecution("", "demo", "sleep 100", Result{Success: false, Error: "operation Timeout exceeded"}, time.Second)
	if err != nil {
		t.Fatalf("LogExecution timeout: %v", err)
	}
	id3, err := s.LogExecution("", "demo", "false", Result{Success: false, Error: "exit status 1"}, time.Millisecond)
	if err != nil {
		t.Fatalf("LogExecution failed: %v", err)
	}

	records, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	byID := map[int64]Record{}
	for _, r := range records {
		byID[r.ID] = r
	}

	if byID[id1].Status != Success {
		t.Errorf("id1 status = %s, want Success", byID[id1].Status)
	}
	if byID[id2].Status != TimedOut {
		t.Errorf("id2 status = %s, want TimedOut", byID[id2].Status)
	}
	if byID[id3].Status != Failed {
		t.Errorf("id3 status = %s, want Failed", byID[id3].Status)
	}
	if byID[id1].CommandType != "git" {
		t.Errorf("id1 command_type = %s, want git", byID[id1].CommandType)
	}
}

func TestMonotonicIDOrdering(t *testing.T) {
	s := newTestStore(t)
	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := s.LogExecution("", "demo", "echo hi", Result{Success: true}, time.Millisecond)
		if err != nil {
			t.Fatalf("LogExecution: %v", err)
		}
		ids = append(ids, id)
	}
	records, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	for i, r := range records {
		want := ids[len(ids)-1-i]
		if r.ID != want {
			t.Fatalf("records[%d].ID = %d, want %d (descending insertion order)", i, r.ID, want)
		}
	}
}

func TestTruncationAtInsertTime(t *testing.T) {
	s := newTestStore(t)
	bigOutput := make([]byte, outputTruncateLen+500)
	bigError := make([]byte, errorTruncateLen+500)
	for i := range bigOutput {
		bigOutput[i] = 'x'
	}
	for i := range bigError {
		bigError[i] = 'y'
	}

	id, err := s.LogExecution("", "demo", "noisy", Result{Success: false, Output: string(bigOutput), Error: string(bigError)}, time.Millisecond)
	if err != nil {
		t.Fatalf("LogExecution: %v", err)
	}
	records, _ := s.Recent(1)
	if records[0].ID != id {
		t.Fatal("expected the just-inserted record")
	}
	if len(records[0].Output) != outputTruncateLen {
		t.Errorf("output length = %d, want %d", len(records[0].Output), outputTruncateLen)
	}
	if len(records[0].Error) != errorTruncateLen {
		t.Errorf("error length = %d, want %d", len(records[0].Error), errorTruncateLen)
	}
}

func TestStatsSinglePassAggregation(t *testing.T) {
	s := newTestStore(t)
	s.LogExecution("", "demo", "git status", Result{Success: true}, time.Millisecond)
	s.LogExecution("", "demo", "npm install", Result{Success: true}, time.Millisecond)
	s.LogExecution("", "other", "git push", Result{Success: false, Error: "denied"}, time.Millisecond)

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", stats.TotalCount)
	}
	if stats.CountByStatus[Success] != 2 {
		t.Errorf("success count = %d, want 2", stats.CountByStatus[Success])
	}
	if stats.CountByCommand["git"] != 2 {
		t.Errorf("git count = %d, want 2", stats.CountByCommand["git"])
	}
	if stats.CountByProject["demo"] != 2 {
		t.Errorf("demo project count = %d, want 2", stats.CountByProject["demo"])
	}
}

func TestMarkRolledBack(t *testing.T) {
	s := newTestStore(t)
	s.LogExecution("approval-1", "demo", "rm file.txt", Result{Success: true}, time.Millisecond)

	changed, err := s.MarkRolledBack("approval-1")
	if err != nil {
		t.Fatalf("MarkRolledBack: %v", err)
	}
	if !changed {
		t.Fatal("expected at least one row to change")
	}

	records, _ := s.ByProject("demo", 10)
	if records[0].Status != RolledBack {
		t.Fatalf("status = %s, want RolledBack", records[0].Status)
	}
}
