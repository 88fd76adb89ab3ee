// Package notify sends schedule-completion notifications over webhook and
// SMTP, ported from the teacher's notify.Channel/SMTPChannel pair: failures
// here are recorded against the calling ScheduleExecution but never affect
// its own terminal status.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"
)

// WebhookPayload is the body posted on schedule completion, per the
// documented shape.
type WebhookPayload struct {
	ScheduleID      string `json:"schedule_id"`
	ScheduleName    string `json:"schedule_name"`
	ExecutionID     string `json:"execution_id"`
	Success         bool   `json:"success"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	ScheduledTime   string `json:"scheduled_time"`
	ActualStartTime string `json:"actual_start_time,omitempty"`
	DurationMs      int64  `json:"duration_ms,omitempty"`
}

const webhookTimeout = 30 * time.Second

// Webhook POSTs payload as JSON to url with a fixed timeout.
func Webhook(ctx context.Context, url string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SMTPConfig names the outbound relay used for email notifications.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Email sends a plain-text notification to to, using cfg's relay. auth is
// omitted when Username is empty, matching an unauthenticated relay.
func Email(cfg SMTPConfig, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	msg := fmt.Appendf(nil, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", cfg.From, to, subject, body)

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	return nil
}
