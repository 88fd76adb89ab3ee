// Package triggers implements the webhook trigger engine (C8): signature
// verification, rate limiting, template-based input resolution, and
// dispatch to the run engine or work-items queue, grounded on the
// teacher's HMAC verify-by-recompute signing idiom generalized to an
// arbitrary signature header/algorithm and the rest of the pack's
// rolling-window rate limiting.
package triggers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/events"
	"github.com/marcus-qen/actionserver/internal/obs"
	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/secrets"
	"github.com/marcus-qen/actionserver/internal/store"
	"github.com/marcus-qen/actionserver/internal/triggers/template"
	"github.com/marcus-qen/actionserver/internal/workitems"
)

// ErrDisabled is returned by HandleWebhook for a disabled trigger. No
// TriggerInvocation row is created, matching the lookup-before-record
// ordering for a missing trigger.
var ErrDisabled = errors.New("triggers: trigger is disabled")

// ErrBadSignature is returned when a configured webhook_secret is set but
// the request's signature header is absent, unrecognized, or does not
// verify.
var ErrBadSignature = errors.New("triggers: signature verification failed")

// ErrRateLimited is returned when the trigger's rolling 60s window is
// exhausted.
var ErrRateLimited = errors.New("triggers: rate limit exceeded")

// signatureHeaders lists the header names checked, in order, for an
// HMAC signature. The first present header wins.
var signatureHeaders = []string{
	"X-Hub-Signature-256",
	"X-Signature-256",
	"X-Webhook-Signature",
	"X-Signature",
}

// Engine is the trigger engine singleton, constructed once in main and
// passed by reference.
type Engine struct {
	store   *store.Store
	runs    *runengine.Engine
	queue   *workitems.Queue
	bus     *events.Bus
	metrics *obs.Metrics
	logger  *zap.Logger

	mu   sync.Mutex
	hits map[string][]time.Time
}

// New constructs the trigger engine.
func New(st *store.Store, runs *runengine.Engine, queue *workitems.Queue, bus *events.Bus, metrics *obs.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		store:   st,
		runs:    runs,
		queue:   queue,
		bus:     bus,
		metrics: metrics,
		logger:  logger.Named("triggers"),
		hits:    make(map[string][]time.Time),
	}
}

// HandleWebhook processes one incoming webhook call against triggerID.
// A missing or disabled trigger returns an error with no TriggerInvocation
// row at all; every other rejection (bad signature, rate limit, dispatch
// failure) is recorded as a terminal TriggerInvocation.
func (e *Engine) HandleWebhook(ctx context.Context, triggerID string, rawBody []byte, headers http.Header, sourceIP string) (*store.TriggerInvocation, error) {
	trg, err := e.store.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if !trg.Enabled {
		return nil, ErrDisabled
	}

	now := time.Now().UTC()

	if trg.WebhookSecret != "" {
		if err := verifySignature(trg.WebhookSecret, rawBody, headers); err != nil {
			return e.reject(ctx, trg, rawBody, headers, sourceIP, store.InvocationRejected, err)
		}
	}

	if trg.RateLimitEnabled && trg.RateLimitMaxPerMinute > 0 {
		if e.countRecent(triggerID, now) >= trg.RateLimitMaxPerMinute {
			return e.reject(ctx, trg, rawBody, headers, sourceIP, store.InvocationRateLimited, ErrRateLimited)
		}
	}

	var payload map[string]any
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &payload); err != nil {
			payload = map[string]any{"raw": string(rawBody)}
		}
	}
	headerMap := make(map[string]any, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			headerMap[strings.ToLower(k)] = v[0]
		}
	}
	tctx := template.Context{
		Payload: payload,
		Headers: headerMap,
		Meta: map[string]any{
			"trigger_id":   trg.ID,
			"trigger_name": trg.Name,
			"timestamp":    now.Format(time.RFC3339),
		},
	}
	resolvedInputs, err := template.Resolve(trg.InputsTemplateJSON, tctx)
	if err != nil {
		return e.reject(ctx, trg, rawBody, headers, sourceIP, store.InvocationError, err)
	}

	e.recordHit(triggerID, now)

	inv := &store.TriggerInvocation{
		TriggerID:   trg.ID,
		InvokedAt:   now,
		SourceIP:    sourceIP,
		PayloadJSON: string(rawBody),
		HeadersJSON: headersJSON(headers),
	}

	switch trg.ExecutionMode {
	case store.ExecutionModeWorkItem:
		itemID, err := e.queue.Seed(ctx, trg.WorkItemQueue, resolvedInputs)
		if err != nil {
			return e.finalize(ctx, trg, inv, store.InvocationError, "", itemID, err)
		}
		return e.finalize(ctx, trg, inv, store.InvocationAccepted, "", itemID, nil)
	default:
		action, err := e.store.GetAction(ctx, trg.ActionID)
		if err != nil {
			return e.finalize(ctx, trg, inv, store.InvocationError, "", "", err)
		}
		run, err := e.runs.StartRun(ctx, action, resolvedInputs, runengine.RequestContext{RequestID: "trigger:" + trg.ID})
		if err != nil {
			return e.finalize(ctx, trg, inv, store.InvocationError, "", "", err)
		}
		if err := e.runs.Execute(ctx, run, action, secrets.ManagedParams{}); err != nil {
			return e.finalize(ctx, trg, inv, store.InvocationError, run.ID, "", err)
		}
		return e.finalize(ctx, trg, inv, store.InvocationAccepted, run.ID, "", nil)
	}
}

func (e *Engine) reject(ctx context.Context, trg *store.Trigger, rawBody []byte, headers http.Header, sourceIP, status string, cause error) (*store.TriggerInvocation, error) {
	inv := &store.TriggerInvocation{
		TriggerID:   trg.ID,
		SourceIP:    sourceIP,
		PayloadJSON: string(rawBody),
		HeadersJSON: headersJSON(headers),
		Status:      status,
		ErrorMsg:    nullString(cause.Error()),
	}
	if err := e.store.InsertTriggerInvocation(ctx, inv); err != nil {
		e.logger.Error("record rejected trigger invocation", zap.String("trigger_id", trg.ID), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.TriggerInvocations.WithLabelValues(status).Inc()
	}
	e.bus.Publish(events.Event{Type: events.TriggerRejected, TriggerID: trg.ID, Summary: cause.Error()})
	return inv, cause
}

func (e *Engine) finalize(ctx context.Context, trg *store.Trigger, inv *store.TriggerInvocation, status, runID, itemID string, cause error) (*store.TriggerInvocation, error) {
	inv.Status = status
	if runID != "" {
		inv.RunID = nullString(runID)
	}
	if itemID != "" {
		inv.WorkItemID = nullString(itemID)
	}
	if cause != nil {
		inv.ErrorMsg = nullString(cause.Error())
	}
	if err := e.store.InsertTriggerInvocation(ctx, inv); err != nil {
		e.logger.Error("record trigger invocation", zap.String("trigger_id", trg.ID), zap.Error(err))
	}
	if status == store.InvocationAccepted {
		if err := e.store.RecordTriggerFired(ctx, trg.ID, inv.InvokedAt); err != nil {
			e.logger.Error("record trigger fired", zap.String("trigger_id", trg.ID), zap.Error(err))
		}
		e.bus.Publish(events.Event{Type: events.TriggerAccepted, TriggerID: trg.ID, RunID: runID, ItemID: itemID})
	} else {
		e.bus.Publish(events.Event{Type: events.TriggerRejected, TriggerID: trg.ID, Summary: inv.ErrorMsg.String})
	}
	if e.metrics != nil {
		e.metrics.TriggerInvocations.WithLabelValues(status).Inc()
	}
	return inv, cause
}

func (e *Engine) countRecent(triggerID string, now time.Time) int {
	cutoff := now.Add(-time.Minute)
	e.mu.Lock()
	defer e.mu.Unlock()
	hits := e.hits[triggerID]
	kept := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	e.hits[triggerID] = kept
	return len(kept)
}

func (e *Engine) recordHit(triggerID string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hits[triggerID] = append(e.hits[triggerID], at)
}

// verifySignature picks the first present signature header and verifies
// its HMAC over the raw request body: SHA-1 for a value with an "sha1="
// prefix, SHA-256 for every other value (with or without an "sha256="
// prefix), whichever of the four headers carries it.
func verifySignature(secret string, body []byte, headers http.Header) error {
	for _, name := range signatureHeaders {
		value := headers.Get(name)
		if value == "" {
			continue
		}
		return verifyOne(secret, body, value)
	}
	return fmt.Errorf("%w: no signature header present", ErrBadSignature)
}

func verifyOne(secret string, body []byte, header string) error {
	algo := sha256.New
	sig := header
	switch {
	case strings.HasPrefix(header, "sha256="):
		sig = strings.TrimPrefix(header, "sha256=")
	case strings.HasPrefix(header, "sha1="):
		algo = sha1.New
		sig = strings.TrimPrefix(header, "sha1=")
	}

	mac := hmac.New(algo, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("%w: signature mismatch", ErrBadSignature)
	}
	return nil
}

func headersJSON(h http.Header) string {
	flat := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	data, _ := json.Marshal(flat)
	return string(data)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
