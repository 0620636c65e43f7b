package audit

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/followthedavid/samguard/internal/dbutil"
)

//go:embed schema.sql
var schemaSQL string

// Store is the durable Execution Audit Log.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	trace *lumberjack.Logger
}

// Open opens the execution database at dbPath. tracePath, if non-empty,
// is a rotating plaintext mirror of every inserted record.
func Open(dbPath, tracePath string) (*Store, error) {
	db, err := dbutil.Open(dbPath, schemaSQL)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if tracePath != "" {
		s.trace = &lumberjack.Logger{
			Filename:   tracePath,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
		}
	}
	return s, nil
}

// Close releases the database handle and the trace log.
func (s *Store) Close() error {
	if s.trace != nil {
		s.trace.Close()
	}
	return s.db.Close()
}

// LogExecution appends one ExecutionRecord, inferring status and
// command_type and truncating output/error at insert time, returning the
// new row's id.
func (s *Store) LogExecution(approvalID, projectID, command string, result Result, duration time.Duration) (int64, error) {
	status := inferStatus(result)
	output := truncate(result.Output, outputTruncateLen)
	errMsg := truncate(result.Error, errorTruncateLen)
	commandType := detectCommandType(command)
	metadata, _ := json.Marshal(result.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`INSERT INTO executions
		(approval_id, project_id, command, command_type, status, output, error, exit_code,
		 duration_ms, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(approvalID), nullableString(projectID), command, commandType, status,
		output, errMsg, result.ExitCode, duration.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339Nano), string(metadata))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if s.trace != nil {
		fmt.Fprintf(s.trace, "[%s] id=%d status=%s type=%s project=%s command=%s\n",
			time.Now().UTC().Format(time.RFC3339), id, status, commandType, projectID, truncate(command, 200))
	}

	return id, nil
}

func inferStatus(r Result) Status {
	if r.Success {
		return Success
	}
	if strings.Contains(strings.ToLower(r.Error), "timeout") {
		return TimedOut
	}
	return Failed
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Recent returns the most recent limit execution records.
func (s *Store) Recent(limit int) ([]Record, error) {
	rows, err := s.db.Query(`SELECT id, approval_id, project_id, command, command_type, status,
		output, error, exit_code, duration_ms, created_at, metadata
		FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ByProject returns the most recent limit records for one project.
func (s *Store) ByProject(projectID string, limit int) ([]Record, error) {
	rows, err := s.db.Query(`SELECT id, approval_id, project_id, command, command_type, status,
		output, error, exit_code, duration_ms, created_at, metadata
		FROM executions WHERE project_id = ? ORDER BY id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var approvalID, projectID sql.NullString
		var createdAt, metadataJSON, status string
		if err := rows.Scan(&r.ID, &approvalID, &projectID, &r.Command, &r.CommandType, &status,
			&r.Output, &r.Error, &r.ExitCode, &r.DurationMS, &createdAt, &metadataJSON); err != nil {
			return nil, err
		}
		r.ApprovalID = approvalID.String
		r.ProjectID = projectID.String
		r.Status = Status(status)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		json.Unmarshal([]byte(metadataJSON), &r.Metadata)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats computes aggregate statistics in one pass per category via
// aggregated queries, never by materializing all rows.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{
		CountByStatus:  make(map[Status]int64),
		CountByCommand: make(map[string]int64),
		CountByProject: make(map[string]int64),
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM executions`).Scan(&stats.TotalCount); err != nil {
		return stats, err
	}

	statusRows, err := s.db.Query(`SELECT status, COUNT(*) FROM executions GROUP BY status`)
	if err != nil {
		return stats, err
	}
	for statusRows.Next() {
		var status string
		var count int64
		if err := statusRows.Scan(&status, &count); err != nil {
			statusRows.Close()
			return stats, err
		}
		stats.CountByStatus[Status(status)] = count
	}
	statusRows.Close()

	typeRows, err := s.db.Query(`SELECT command_type, COUNT(*) FROM executions GROUP BY command_type`)
	if err != nil {
		return stats, err
	}
	for typeRows.Next() {
		var t string
		var count int64
		if err := typeRows.Scan(&t, &count); err != nil {
			typeRows.Close()
			return stats, err
		}
		stats.CountByCommand[t] = count
	}
	typeRows.Close()

	projectRows, err := s.db.Query(`SELECT project_id, COUNT(*) FROM executions
		WHERE project_id IS NOT NULL GROUP BY project_id`)
	if err != nil {
		return stats, err
	}
	for projectRows.Next() {
		var p string
		var count int64
		if err := projectRows.Scan(&p, &count); err != nil {
			projectRows.Close()
			return stats, err
		}
		stats.CountByProject[p] = count
	}
	projectRows.Close()

	var avg sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(duration_ms) FROM executions`).Scan(&avg); err != nil {
		return stats, err
	}
	stats.AvgDurationMS = avg.Float64

	return stats, nil
}

// ExportJSON returns a JSON document describing every execution in
// [start, end].
func (s *Store) ExportJSON(start, end time.Time) ([]byte, error) {
	rows, err := s.db.Query(`SELECT id, approval_id, project_id, command, command_type, status,
		output, error, exit_code, duration_ms, created_at, metadata
		FROM executions WHERE created_at >= ? AND created_at <= ? ORDER BY id ASC`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	payload := struct {
		ExportedAt string    `json:"exported_at"`
		DateRange  [2]string `json:"date_range"`
		TotalCount int       `json:"total_count"`
		Executions []Record  `json:"executions"`
	}{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		DateRange:  [2]string{start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)},
		TotalCount: len(records),
		Executions: records,
	}
	return json.MarshalIndent(payload, "", "  ")
}

// MarkRolledBack updates every execution row with the given approval_id to
// status RolledBack. Returns true if at least one row changed.
func (s *Store) MarkRolledBack(approvalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE executions SET status = ? WHERE approval_id = ?`, RolledBack, approvalID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
