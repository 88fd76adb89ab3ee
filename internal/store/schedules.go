package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Schedule kinds.
const (
	ScheduleCron     = "cron"
	ScheduleInterval = "interval"
	ScheduleWeekday  = "weekday"
	ScheduleOnce     = "once"
)

// Schedule execution modes.
const (
	ExecutionModeRun      = "run"
	ExecutionModeWorkItem = "work_item"
)

// ScheduleExecution skip reasons.
const (
	SkipPreviousRunning  = "PREVIOUS_RUNNING"
	SkipRateLimited      = "RATE_LIMITED"
	SkipDependencyFailed = "DEPENDENCY_FAILED"
)

// ScheduleExecution statuses.
const (
	ExecRunning   = "RUNNING"
	ExecRetrying  = "RETRYING"
	ExecCompleted = "COMPLETED"
	ExecFailed    = "FAILED"
	ExecSkipped   = "SKIPPED"
)

// Schedule is a stored description of when to auto-create Runs or work
// items.
type Schedule struct {
	ID                     string
	Name                   string
	Enabled                bool
	ScheduleType           string
	CronExpression         string
	IntervalSeconds        sql.NullInt64
	WeekdayConfigJSON      string
	Timezone               string
	NextRunAt              sql.NullTime
	LastRunAt              sql.NullTime
	Priority               int
	ActionID               string
	InputsJSON             string
	ExecutionMode          string
	WorkItemQueue          string
	MaxConcurrent          int
	SkipIfRunning          bool
	DependsOnScheduleID    sql.NullString
	DependencyMode         string // after_success, after_any
	RetryEnabled           bool
	RetryMaxAttempts       int
	RetryDelaySeconds      int
	RetryBackoffMultiplier float64
	RateLimitEnabled       bool
	RateLimitMaxPerHour    int
	RateLimitMaxPerDay     int
	NotifyOnSuccess        bool
	NotifyOnFailure        bool
	NotificationWebhookURL string
	NotificationEmail      string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ScheduleExecution is a single past or ongoing attempt of a Schedule.
type ScheduleExecution struct {
	ID               string
	ScheduleID       string
	RunID            sql.NullString
	WorkItemID       sql.NullString
	ScheduledTime    time.Time
	ActualStartTime  sql.NullTime
	ActualEndTime    sql.NullTime
	DurationMs       sql.NullInt64
	Status           string
	SkipReason       string
	AttemptNumber    int
	ResultJSON       sql.NullString
	ErrorMessage     sql.NullString
	NotificationSent bool
	NotificationErr  string
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTimeArg(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return fmtTime(t.Time)
}

// InsertSchedule creates a new Schedule row, assigning an ID if absent.
func (s *Store) InsertSchedule(ctx context.Context, sc *Schedule) error {
	if sc.ID == "" {
		sc.ID = "sch-" + uuid.NewString()
	}
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO schedules
		(id, name, enabled, schedule_type, cron_expression, interval_seconds, weekday_config_json,
		 timezone, next_run_at, last_run_at, priority, action_id, inputs_json, execution_mode,
		 work_item_queue, max_concurrent, skip_if_running, depends_on_schedule_id, dependency_mode,
		 retry_enabled, retry_max_attempts, retry_delay_seconds, retry_backoff_multiplier,
		 rate_limit_enabled, rate_limit_max_per_hour, rate_limit_max_per_day,
		 notify_on_success, notify_on_failure, notification_webhook_url, notification_email,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, boolInt(sc.Enabled), sc.ScheduleType, sc.CronExpression, sc.IntervalSeconds,
		sc.WeekdayConfigJSON, sc.Timezone, nullTimeArg(sc.NextRunAt), nullTimeArg(sc.LastRunAt),
		sc.Priority, sc.ActionID, sc.InputsJSON, sc.ExecutionMode, sc.WorkItemQueue, sc.MaxConcurrent,
		boolInt(sc.SkipIfRunning), sc.DependsOnScheduleID, sc.DependencyMode,
		boolInt(sc.RetryEnabled), sc.RetryMaxAttempts, sc.RetryDelaySeconds, sc.RetryBackoffMultiplier,
		boolInt(sc.RateLimitEnabled), sc.RateLimitMaxPerHour, sc.RateLimitMaxPerDay,
		boolInt(sc.NotifyOnSuccess), boolInt(sc.NotifyOnFailure), sc.NotificationWebhookURL, sc.NotificationEmail,
		fmtTime(sc.CreatedAt), fmtTime(sc.UpdatedAt))
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DueSchedules returns enabled schedules whose next_run_at is not after
// now, ordered by (priority DESC, next_run_at ASC) per the admission order
// the scheduler tick requires.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectCols+` FROM schedules
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY priority DESC, next_run_at ASC`, fmtTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// GetSchedule returns the schedule with the given id.
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelectCols+` FROM schedules WHERE id = ?`, id)
	return scanSchedule(row)
}

// ListSchedules returns every schedule.
func (s *Store) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectCols+` FROM schedules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// DeleteSchedule removes a schedule by id.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

const scheduleSelectCols = `SELECT id, name, enabled, schedule_type, cron_expression, interval_seconds,
	weekday_config_json, timezone, next_run_at, last_run_at, priority, action_id, inputs_json,
	execution_mode, work_item_queue, max_concurrent, skip_if_running, depends_on_schedule_id,
	dependency_mode, retry_enabled, retry_max_attempts, retry_delay_seconds, retry_backoff_multiplier,
	rate_limit_enabled, rate_limit_max_per_hour, rate_limit_max_per_day, notify_on_success,
	notify_on_failure, notification_webhook_url, notification_email, created_at, updated_at`

func scanSchedule(row scanner) (*Schedule, error) {
	var sc Schedule
	var enabled, skipIfRunning, retryEnabled, rateLimitEnabled, notifySuccess, notifyFailure int
	var nextRunAt, lastRunAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&sc.ID, &sc.Name, &enabled, &sc.ScheduleType, &sc.CronExpression, &sc.IntervalSeconds,
		&sc.WeekdayConfigJSON, &sc.Timezone, &nextRunAt, &lastRunAt, &sc.Priority, &sc.ActionID, &sc.InputsJSON,
		&sc.ExecutionMode, &sc.WorkItemQueue, &sc.MaxConcurrent, &skipIfRunning, &sc.DependsOnScheduleID,
		&sc.DependencyMode, &retryEnabled, &sc.RetryMaxAttempts, &sc.RetryDelaySeconds, &sc.RetryBackoffMultiplier,
		&rateLimitEnabled, &sc.RateLimitMaxPerHour, &sc.RateLimitMaxPerDay, &notifySuccess, &notifyFailure,
		&sc.NotificationWebhookURL, &sc.NotificationEmail, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sc.Enabled = enabled != 0
	sc.SkipIfRunning = skipIfRunning != 0
	sc.RetryEnabled = retryEnabled != 0
	sc.RateLimitEnabled = rateLimitEnabled != 0
	sc.NotifyOnSuccess = notifySuccess != 0
	sc.NotifyOnFailure = notifyFailure != 0
	if nextRunAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, nextRunAt.String)
		sc.NextRunAt = sql.NullTime{Time: t, Valid: true}
	}
	if lastRunAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lastRunAt.String)
		sc.LastRunAt = sql.NullTime{Time: t, Valid: true}
	}
	sc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &sc, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var out []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateScheduleAfterTick updates a Schedule's run bookkeeping after a tick
// has either admitted or skipped it: last_run_at (if a run actually
// started), next_run_at, updated_at, and enabled (false for exhausted
// `once` schedules).
func (s *Store) UpdateScheduleAfterTick(ctx context.Context, id string, lastRunAt *time.Time, nextRunAt *time.Time, disable bool) error {
	var lastArg, nextArg any
	if lastRunAt != nil {
		lastArg = fmtTime(*lastRunAt)
	}
	if nextRunAt != nil {
		nextArg = fmtTime(*nextRunAt)
	}
	enabledExpr := "enabled"
	if disable {
		enabledExpr = "0"
	}
	_, err := s.db.ExecContext(ctx, `UPDATE schedules SET
		last_run_at = COALESCE(?, last_run_at),
		next_run_at = ?,
		updated_at = ?,
		enabled = `+enabledExpr+`
		WHERE id = ?`, lastArg, nextArg, fmtTime(time.Now().UTC()), id)
	return err
}

// CountRunningExecutions returns the number of ScheduleExecution rows
// currently RUNNING or RETRYING, optionally scoped to a single schedule.
func (s *Store) CountRunningExecutions(ctx context.Context, scheduleID string) (int, error) {
	var row *sql.Row
	if scheduleID != "" {
		row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_executions
			WHERE schedule_id = ? AND status IN ('RUNNING','RETRYING')`, scheduleID)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_executions
			WHERE status IN ('RUNNING','RETRYING')`)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountExecutionsSince returns the number of ScheduleExecution rows for
// scheduleID with scheduled_time after since, excluding SKIPPED rows. The
// scheduler's rate-limit gate does not call this; it counts hits with its
// in-memory limiter.
func (s *Store) CountExecutionsSince(ctx context.Context, scheduleID string, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_executions
		WHERE schedule_id = ? AND scheduled_time > ? AND status NOT IN ('SKIPPED')`,
		scheduleID, fmtTime(since))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LatestExecution returns the most recent ScheduleExecution for a
// schedule, or ErrNotFound if it has never executed.
func (s *Store) LatestExecution(ctx context.Context, scheduleID string) (*ScheduleExecution, error) {
	row := s.db.QueryRowContext(ctx, scheduleExecutionCols+` FROM schedule_executions
		WHERE schedule_id = ? ORDER BY scheduled_time DESC LIMIT 1`, scheduleID)
	return scanScheduleExecution(row)
}

// InsertScheduleExecution creates a new ScheduleExecution row.
func (s *Store) InsertScheduleExecution(ctx context.Context, e *ScheduleExecution) error {
	if e.ID == "" {
		e.ID = "sex-" + uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO schedule_executions
		(id, schedule_id, run_id, work_item_id, scheduled_time, actual_start_time, actual_end_time,
		 duration_ms, status, skip_reason, attempt_number, result_json, error_message,
		 notification_sent, notification_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ScheduleID, e.RunID, e.WorkItemID, fmtTime(e.ScheduledTime), nullTimeArg(e.ActualStartTime),
		nullTimeArg(e.ActualEndTime), e.DurationMs, e.Status, e.SkipReason, e.AttemptNumber,
		e.ResultJSON, e.ErrorMessage, boolInt(e.NotificationSent), e.NotificationErr)
	return err
}

// UpdateScheduleExecution finalizes an execution row's terminal fields.
func (s *Store) UpdateScheduleExecution(ctx context.Context, e *ScheduleExecution) error {
	_, err := s.db.ExecContext(ctx, `UPDATE schedule_executions SET
		status = ?, actual_end_time = ?, duration_ms = ?, result_json = ?, error_message = ?,
		notification_sent = ?, notification_error = ?
		WHERE id = ?`,
		e.Status, nullTimeArg(e.ActualEndTime), e.DurationMs, e.ResultJSON, e.ErrorMessage,
		boolInt(e.NotificationSent), e.NotificationErr, e.ID)
	return err
}

const scheduleExecutionCols = `SELECT id, schedule_id, run_id, work_item_id, scheduled_time,
	actual_start_time, actual_end_time, duration_ms, status, skip_reason, attempt_number,
	result_json, error_message, notification_sent, notification_error`

func scanScheduleExecution(row scanner) (*ScheduleExecution, error) {
	var e ScheduleExecution
	var scheduledTime string
	var actualStart, actualEnd sql.NullString
	var notificationSent int
	if err := row.Scan(&e.ID, &e.ScheduleID, &e.RunID, &e.WorkItemID, &scheduledTime,
		&actualStart, &actualEnd, &e.DurationMs, &e.Status, &e.SkipReason, &e.AttemptNumber,
		&e.ResultJSON, &e.ErrorMessage, &notificationSent, &e.NotificationErr); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.ScheduledTime, _ = time.Parse(time.RFC3339Nano, scheduledTime)
	if actualStart.Valid {
		t, _ := time.Parse(time.RFC3339Nano, actualStart.String)
		e.ActualStartTime = sql.NullTime{Time: t, Valid: true}
	}
	if actualEnd.Valid {
		t, _ := time.Parse(time.RFC3339Nano, actualEnd.String)
		e.ActualEndTime = sql.NullTime{Time: t, Valid: true}
	}
	e.NotificationSent = notificationSent != 0
	return &e, nil
}
