package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// WorkItem states.
const (
	WorkItemPending    = "PENDING"
	WorkItemInProgress = "IN_PROGRESS"
	WorkItemDone       = "DONE"
	WorkItemFailed     = "FAILED"
)

// WorkItem is a persistent queue entry processed by a consumer Action.
type WorkItem struct {
	ID               string
	QueueName        string
	State            string
	PayloadJSON      string
	CreatedAt        time.Time
	StartedAt        sql.NullTime
	FinishedAt       sql.NullTime
	LeaseOwner       sql.NullString
	Attempts         int
	ExceptionType    string
	ExceptionCode    string
	ExceptionMessage string
}

// QueueStats summarizes item counts per state for one queue.
type QueueStats struct {
	QueueName  string
	Pending    int
	InProgress int
	Done       int
	Failed     int
}

const workItemSelectCols = `SELECT id, queue_name, state, payload_json, created_at, started_at,
	finished_at, lease_owner, attempts, exception_type, exception_code, exception_message`

// SeedWorkItem enqueues a new PENDING item onto queueName.
func (s *Store) SeedWorkItem(ctx context.Context, queueName, payloadJSON string) (string, error) {
	id := "wi-" + uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO work_items
		(id, queue_name, state, payload_json, created_at, attempts)
		VALUES (?, ?, ?, ?, ?, 0)`,
		id, queueName, WorkItemPending, payloadJSON, fmtTime(time.Now().UTC()))
	if err != nil {
		return "", err
	}
	return id, nil
}

// ReserveWorkItem atomically claims the oldest PENDING item on queueName
// for leaseOwner, using a single UPDATE ... RETURNING so at most one
// consumer ever wins a given row — no separate SELECT-then-UPDATE race
// window. Returns ErrNotFound if the queue is empty.
func (s *Store) ReserveWorkItem(ctx context.Context, queueName, leaseOwner string) (*WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE work_items SET
		state = ?, lease_owner = ?, started_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM work_items
			WHERE queue_name = ? AND state = ?
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING `+workItemReturningCols,
		WorkItemInProgress, leaseOwner, fmtTime(time.Now().UTC()), queueName, WorkItemPending)
	return scanWorkItem(row)
}

const workItemReturningCols = `id, queue_name, state, payload_json, created_at, started_at,
		finished_at, lease_owner, attempts, exception_type, exception_code, exception_message`

// ReleaseWorkItem moves an IN_PROGRESS item to a terminal state (DONE or
// FAILED), recording an exception if provided. Returns ErrInvalidTransition
// if the item was not IN_PROGRESS.
func (s *Store) ReleaseWorkItem(ctx context.Context, id, state, exceptionType, exceptionCode, exceptionMessage string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE work_items SET
		state = ?, finished_at = ?, exception_type = ?, exception_code = ?, exception_message = ?
		WHERE id = ? AND state = ?`,
		state, fmtTime(time.Now().UTC()), exceptionType, exceptionCode, exceptionMessage, id, WorkItemInProgress)
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

// RequeueWorkItem is the admin-only re-queue path for a FAILED item: it
// does not happen automatically, matching the spec's explicit "a janitor
// is out of scope" stance on crashed consumers.
func (s *Store) RequeueWorkItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE work_items SET
		state = ?, lease_owner = NULL, started_at = NULL, finished_at = NULL
		WHERE id = ? AND state = ?`,
		WorkItemPending, id, WorkItemFailed)
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

// GetQueueStats returns the per-state item counts for queueName.
func (s *Store) GetQueueStats(ctx context.Context, queueName string) (*QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM work_items
		WHERE queue_name = ? GROUP BY state`, queueName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &QueueStats{QueueName: queueName}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		switch state {
		case WorkItemPending:
			stats.Pending = n
		case WorkItemInProgress:
			stats.InProgress = n
		case WorkItemDone:
			stats.Done = n
		case WorkItemFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

// ListWorkItems returns items on queueName, optionally filtered by state,
// most recently created first.
func (s *Store) ListWorkItems(ctx context.Context, queueName, state string, limit int) ([]*WorkItem, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if state != "" {
		rows, err = s.db.QueryContext(ctx, workItemSelectCols+` FROM work_items
			WHERE queue_name = ? AND state = ? ORDER BY created_at DESC LIMIT ?`, queueName, state, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, workItemSelectCols+` FROM work_items
			WHERE queue_name = ? ORDER BY created_at DESC LIMIT ?`, queueName, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkItem
	for rows.Next() {
		wi, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wi)
	}
	return out, rows.Err()
}

func scanWorkItem(row scanner) (*WorkItem, error) {
	var wi WorkItem
	var createdAt string
	var startedAt, finishedAt sql.NullString
	if err := row.Scan(&wi.ID, &wi.QueueName, &wi.State, &wi.PayloadJSON, &createdAt, &startedAt,
		&finishedAt, &wi.LeaseOwner, &wi.Attempts, &wi.ExceptionType, &wi.ExceptionCode, &wi.ExceptionMessage); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	wi.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		wi.StartedAt = sql.NullTime{Time: t, Valid: true}
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		wi.FinishedAt = sql.NullTime{Time: t, Valid: true}
	}
	return &wi, nil
}
