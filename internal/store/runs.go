package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run status values. NOT_RUN and RUNNING are the non-terminal states;
// PASSED and FAILED never transition again.
const (
	RunNotRun  = "NOT_RUN"
	RunRunning = "RUNNING"
	RunPassed  = "PASSED"
	RunFailed  = "FAILED"
)

// Run is one durable invocation of an Action.
type Run struct {
	ID                   string
	NumberedID           int64
	Status               string
	ActionID             string
	StartTime            time.Time
	RunTime              sql.NullFloat64
	Inputs               string
	Result               sql.NullString
	ErrorMessage         sql.NullString
	RelativeArtifactsDir string
	RequestID            string
	RunType              string // action, robot
}

// NextRunNumber atomically increments and returns the dense run counter,
// creating the counter row on first use. It must be called inside the same
// transaction that inserts the Run row so numbered_id allocation and run
// creation are atomic together.
func (s *Store) NextRunNumber(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO counters (id, value) VALUES ('run_id', 0)
		ON CONFLICT(id) DO NOTHING`); err != nil {
		return 0, err
	}
	row := tx.QueryRowContext(ctx, `UPDATE counters SET value = value + 1 WHERE id = 'run_id' RETURNING value`)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// InsertRun creates a Run row in NOT_RUN, assigning an ID if absent. Caller
// is expected to have already allocated NumberedID via NextRunNumber within
// the same transaction.
func (s *Store) InsertRun(ctx context.Context, tx *sql.Tx, r *Run) error {
	if r.ID == "" {
		r.ID = "run-" + uuid.NewString()
	}
	if r.StartTime.IsZero() {
		r.StartTime = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = RunNotRun
	}
	if r.RunType == "" {
		r.RunType = "action"
	}
	exec := tx.ExecContext
	_, err := exec(ctx, `INSERT INTO runs
		(id, numbered_id, status, action_id, start_time, inputs, relative_artifacts_dir, request_id, run_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.NumberedID, r.Status, r.ActionID, r.StartTime.Format(time.RFC3339Nano),
		r.Inputs, r.RelativeArtifactsDir, r.RequestID, r.RunType)
	return err
}

// TransitionRunToRunning moves a Run from NOT_RUN to RUNNING. Returns
// ErrInvalidTransition if the row was not in NOT_RUN, which can only happen
// if something else raced the same run id.
func (s *Store) TransitionRunToRunning(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ? AND status = ?`,
		RunRunning, runID, RunNotRun)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// FinishRun moves a Run from RUNNING to its terminal status, recording the
// result/error and wall-clock run time. Returns ErrInvalidTransition if the
// row was not RUNNING.
func (s *Store) FinishRun(ctx context.Context, runID, status string, runTime float64, result, errMsg *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs
		SET status = ?, run_time = ?, result = ?, error_message = ?
		WHERE id = ? AND status = ?`,
		status, runTime, nullableString(result), nullableString(errMsg), runID, RunRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, numbered_id, status, action_id, start_time, run_time,
		inputs, result, error_message, relative_artifacts_dir, request_id, run_type
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns runs for actionID (if non-empty) or all runs, most
// recent first, bounded by limit.
func (s *Store) ListRuns(ctx context.Context, actionID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if actionID != "" {
		rows, err = s.db.QueryContext(ctx, `SELECT id, numbered_id, status, action_id, start_time, run_time,
			inputs, result, error_message, relative_artifacts_dir, request_id, run_type
			FROM runs WHERE action_id = ? ORDER BY numbered_id DESC LIMIT ?`, actionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, numbered_id, status, action_id, start_time, run_time,
			inputs, result, error_message, relative_artifacts_dir, request_id, run_type
			FROM runs ORDER BY numbered_id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var startTime string
	if err := row.Scan(&r.ID, &r.NumberedID, &r.Status, &r.ActionID, &startTime, &r.RunTime,
		&r.Inputs, &r.Result, &r.ErrorMessage, &r.RelativeArtifactsDir, &r.RequestID, &r.RunType); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	return &r, nil
}
