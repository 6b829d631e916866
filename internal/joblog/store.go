// Package joblog persists the lifecycle of every trigger in SQLite.
package joblog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a new trigger in the received state. A second Record for the
// same identifier returns ErrDuplicate and changes nothing.
func (s *Store) Record(ctx context.Context, req RecordRequest) error {
	if req.Path == "" {
		return fmt.Errorf("path is empty")
	}
	if req.Marker == "" {
		return fmt.Errorf("marker is empty")
	}
	if req.SubmittedBy == "" {
		return fmt.Errorf("submitted_by is empty")
	}

	id := req.ID.String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO jobs(id, path, status, submitted_by, marker, created_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, id, req.Path, StatusReceived, req.SubmittedBy, req.Marker, now)
	if err != nil {
		return fmt.Errorf("record job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record job rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	if err := appendLog(ctx, tx, id, StatusReceived, nil, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MarkWaiting stores the parsed descriptor; the job now waits for the
// dispatch gate.
func (s *Store) MarkWaiting(ctx context.Context, id, jobName, argString string) error {
	return s.transition(ctx, id, StatusWaiting, nil, `job_name = ?, arg_string = ?`, jobName, argString)
}

// MarkRejected records a trigger whose descriptor could not be read or
// parsed.
func (s *Store) MarkRejected(ctx context.Context, id, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.transition(ctx, id, StatusRejected, &reason, `completed_at = ?, last_error = ?`, now, reason)
}

// MarkRunning records a successful launch.
func (s *Store) MarkRunning(ctx context.Context, id string, pid int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.transition(ctx, id, StatusRunning, nil, `started_at = ?, pid = ?`, now, pid)
}

// Complete moves a job to a terminal status.
func (s *Store) Complete(ctx context.Context, id string, status Status, lastError *string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete job %s: status %q is not terminal", id, status)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.transition(ctx, id, status, lastError, `completed_at = ?, last_error = ?`, now, lastError)
}

// AbandonInFlight marks every non-terminal row as abandoned. It is run at
// startup: triggers are not replayed across restarts.
func (s *Store) AbandonInFlight(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO job_log(job_id, status, message, at)
SELECT id, ?, ?, ? FROM jobs WHERE status IN (?, ?, ?);
`, StatusAbandoned, reason, now, StatusReceived, StatusWaiting, StatusRunning); err != nil {
		return 0, fmt.Errorf("log abandoned jobs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = ?, completed_at = ?, last_error = ?
WHERE status IN (?, ?, ?);
`, StatusAbandoned, now, reason, StatusReceived, StatusWaiting, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("abandon jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("abandon jobs rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Get returns the history row for id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, path, job_name, arg_string, status, submitted_by, marker, pid,
       created_at, started_at, completed_at, last_error
FROM jobs
WHERE id = ?;
`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, path, job_name, arg_string, status, submitted_by, marker, pid,
       created_at, started_at, completed_at, last_error
FROM jobs
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]*Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// Log returns the transitions recorded for id, oldest first.
func (s *Store) Log(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, job_id, status, message, at
FROM job_log
WHERE job_id = ?
ORDER BY seq ASC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("list job log: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			statusS string
			message sql.NullString
			atS     string
		)
		if err := rows.Scan(&e.Seq, &e.JobID, &statusS, &message, &atS); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		e.Status = Status(statusS)
		if message.Valid {
			e.Message = &message.String
		}
		if t, err := time.Parse(time.RFC3339Nano, atS); err == nil {
			e.At = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job log: %w", err)
	}
	return out, nil
}

// transition updates status plus the extra columns in set, and appends a
// job_log row, in one transaction.
func (s *Store) transition(ctx context.Context, id string, status Status, message *string, set string, args ...any) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE jobs SET status = ?`
	if set != "" {
		query += `, ` + set
	}
	query += ` WHERE id = ?;`

	params := make([]any, 0, len(args)+2)
	params = append(params, status)
	params = append(params, args...)
	params = append(params, id)

	res, err := tx.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if err := appendLog(ctx, tx, id, status, message, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func appendLog(ctx context.Context, tx *sql.Tx, id string, status Status, message *string, at string) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO job_log(job_id, status, message, at)
VALUES(?, ?, ?, ?);
`, id, status, message, at); err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j            Job
		jobName      sql.NullString
		argString    sql.NullString
		statusS      string
		pid          sql.NullInt64
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		lastError    sql.NullString
	)
	if err := row.Scan(
		&j.ID, &j.Path, &jobName, &argString, &statusS, &j.SubmittedBy, &j.Marker, &pid,
		&createdAtS, &startedAtS, &completedAtS, &lastError,
	); err != nil {
		return nil, err
	}

	j.Status = Status(statusS)
	j.JobName = jobName.String
	j.ArgString = argString.String
	if pid.Valid {
		p := int(pid.Int64)
		j.PID = &p
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			j.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			j.CompletedAt = &t
		}
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}
