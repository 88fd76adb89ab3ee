package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// TriggerInvocation statuses.
const (
	InvocationAccepted    = "ACCEPTED"
	InvocationRejected    = "REJECTED"
	InvocationRateLimited = "RATE_LIMITED"
	InvocationError       = "ERROR"
)

// Trigger is a webhook endpoint that converts an incoming HTTP request
// into a Run or a WorkItem.
type Trigger struct {
	ID                    string
	Name                  string
	Enabled               bool
	ActionID              string
	ExecutionMode         string
	WorkItemQueue         string
	InputsTemplateJSON    string
	WebhookSecret         string
	RateLimitEnabled      bool
	RateLimitMaxPerMinute int
	LastTriggeredAt       sql.NullTime
	TriggerCount          int64
}

// TriggerInvocation is a logged incoming webhook call and its outcome.
type TriggerInvocation struct {
	ID          string
	TriggerID   string
	InvokedAt   time.Time
	SourceIP    string
	PayloadJSON string
	HeadersJSON string
	Status      string
	RunID       sql.NullString
	WorkItemID  sql.NullString
	ErrorMsg    sql.NullString
}

const triggerSelectCols = `SELECT id, name, enabled, action_id, execution_mode, work_item_queue,
	inputs_template_json, webhook_secret, rate_limit_enabled, rate_limit_max_per_minute,
	last_triggered_at, trigger_count`

// InsertTrigger creates a new Trigger row.
func (s *Store) InsertTrigger(ctx context.Context, t *Trigger) error {
	if t.ID == "" {
		t.ID = "trg-" + uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO triggers
		(id, name, enabled, action_id, execution_mode, work_item_queue, inputs_template_json,
		 webhook_secret, rate_limit_enabled, rate_limit_max_per_minute, last_triggered_at, trigger_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, boolInt(t.Enabled), t.ActionID, t.ExecutionMode, t.WorkItemQueue,
		t.InputsTemplateJSON, t.WebhookSecret, boolInt(t.RateLimitEnabled), t.RateLimitMaxPerMinute,
		nullTimeArg(t.LastTriggeredAt), t.TriggerCount)
	return err
}

// GetTrigger returns the trigger with the given id.
func (s *Store) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	row := s.db.QueryRowContext(ctx, triggerSelectCols+` FROM triggers WHERE id = ?`, id)
	return scanTrigger(row)
}

// ListTriggers returns every trigger.
func (s *Store) ListTriggers(ctx context.Context) ([]*Trigger, error) {
	rows, err := s.db.QueryContext(ctx, triggerSelectCols+` FROM triggers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTrigger removes a trigger by id.
func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	return err
}

// RecordTriggerFired bumps trigger_count and last_triggered_at after an
// accepted invocation.
func (s *Store) RecordTriggerFired(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE triggers SET trigger_count = trigger_count + 1, last_triggered_at = ?
		WHERE id = ?`, fmtTime(at), id)
	return err
}

func scanTrigger(row scanner) (*Trigger, error) {
	var t Trigger
	var enabled, rateLimitEnabled int
	var lastTriggered sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &enabled, &t.ActionID, &t.ExecutionMode, &t.WorkItemQueue,
		&t.InputsTemplateJSON, &t.WebhookSecret, &rateLimitEnabled, &t.RateLimitMaxPerMinute,
		&lastTriggered, &t.TriggerCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Enabled = enabled != 0
	t.RateLimitEnabled = rateLimitEnabled != 0
	if lastTriggered.Valid {
		parsed, _ := time.Parse(time.RFC3339Nano, lastTriggered.String)
		t.LastTriggeredAt = sql.NullTime{Time: parsed, Valid: true}
	}
	return &t, nil
}

// InsertTriggerInvocation records one incoming webhook call and its
// outcome. Called only after the trigger lookup, signature check, and
// rate-limit check have all been evaluated, so no row is ever created for
// a request against a missing trigger.
func (s *Store) InsertTriggerInvocation(ctx context.Context, inv *TriggerInvocation) error {
	if inv.ID == "" {
		inv.ID = "tinv-" + uuid.NewString()
	}
	if inv.InvokedAt.IsZero() {
		inv.InvokedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO trigger_invocations
		(id, trigger_id, invoked_at, source_ip, payload_json, headers_json, status, run_id, work_item_id, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.TriggerID, fmtTime(inv.InvokedAt), inv.SourceIP, inv.PayloadJSON, inv.HeadersJSON,
		inv.Status, inv.RunID, inv.WorkItemID, inv.ErrorMsg)
	return err
}

// CountTriggerInvocationsSince counts accepted invocations of a trigger
// after since. The trigger engine's rate limit does not call this; it
// counts hits in memory.
func (s *Store) CountTriggerInvocationsSince(ctx context.Context, triggerID string, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trigger_invocations
		WHERE trigger_id = ? AND invoked_at > ? AND status = ?`,
		triggerID, fmtTime(since), InvocationAccepted)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListTriggerInvocations returns the most recent invocations for a
// trigger, most recent first.
func (s *Store) ListTriggerInvocations(ctx context.Context, triggerID string, limit int) ([]*TriggerInvocation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, trigger_id, invoked_at, source_ip, payload_json,
		headers_json, status, run_id, work_item_id, error_message
		FROM trigger_invocations WHERE trigger_id = ? ORDER BY invoked_at DESC LIMIT ?`, triggerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TriggerInvocation
	for rows.Next() {
		var inv TriggerInvocation
		var invokedAt string
		if err := rows.Scan(&inv.ID, &inv.TriggerID, &invokedAt, &inv.SourceIP, &inv.PayloadJSON,
			&inv.HeadersJSON, &inv.Status, &inv.RunID, &inv.WorkItemID, &inv.ErrorMsg); err != nil {
			return nil, err
		}
		inv.InvokedAt, _ = time.Parse(time.RFC3339Nano, invokedAt)
		out = append(out, &inv)
	}
	return out, rows.Err()
}
