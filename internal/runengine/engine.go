// Package runengine orchestrates one action invocation end to end (C5):
// input validation, numbered-id allocation, worker lease, output capture,
// schema validation, and terminal state commit.
package runengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/events"
	"github.com/marcus-qen/actionserver/internal/jsonschema"
	"github.com/marcus-qen/actionserver/internal/obs"
	"github.com/marcus-qen/actionserver/internal/procpool"
	"github.com/marcus-qen/actionserver/internal/secrets"
	"github.com/marcus-qen/actionserver/internal/store"
)

// Reserved artifact file names, carved out of any user-facing artifact
// listing the same way formatResultOutput trims internal-only fields.
const (
	InputsFileName = "__action_server_inputs.json"
	OutputFileName = "__action_server_output.txt"
)

var reservedArtifactNames = map[string]bool{
	InputsFileName: true,
	OutputFileName: true,
}

// ErrWorkerUnavailable surfaces when no process pool worker could be
// leased before the caller's context expired.
var ErrWorkerUnavailable = errors.New("runengine: no worker available")

// ValidationError wraps an input-schema validation failure, surfaced by
// the HTTP layer as 422. Never retried.
type ValidationError struct{ Err error }

func (v *ValidationError) Error() string { return v.Err.Error() }
func (v *ValidationError) Unwrap() error { return v.Err }

// RequestContext carries the caller-supplied request id used to tag a Run
// (e.g. "schedule:<id>", "trigger:<id>", or empty for a direct HTTP call)
// and any managed parameters resolved by C6 for this invocation.
type RequestContext struct {
	RequestID     string
	ManagedParams secrets.ManagedParams
}

// Engine is the run engine singleton, constructed once in main and passed
// by reference — no package-level init.
type Engine struct {
	store         *store.Store
	pool          *procpool.Pool
	bus           *events.Bus
	metrics       *obs.Metrics
	artifactsRoot string
	logger        *zap.Logger
}

// New constructs the run engine. artifactsRoot is the directory under
// which every run gets its own runs/<run_id>/ subdirectory.
func New(st *store.Store, pool *procpool.Pool, bus *events.Bus, metrics *obs.Metrics, artifactsRoot string, logger *zap.Logger) *Engine {
	return &Engine{store: st, pool: pool, bus: bus, metrics: metrics, artifactsRoot: artifactsRoot, logger: logger.Named("runengine")}
}

// terminalLine is the shape of a worker's final protocol line: either
// {"result": ...} or {"error": "..."}.
type terminalLine struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// responseEnvelope is the user-code first-class Response{result, error}
// output variant recognized per spec.md §9: a populated Error still marks
// the Run Passed with error_message set from the envelope, not the
// exception path.
type responseEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

func schemaFromStored(raw string) *jsonschema.Schema {
	var s jsonschema.Schema
	if raw == "" {
		return &s
	}
	_ = json.Unmarshal([]byte(raw), &s)
	return &s
}

// StartRun validates inputs against the action's input schema, allocates
// a dense numbered_id, creates the run's artifacts directory, writes the
// reserved inputs file, and inserts the Run row at NOT_RUN. It does not
// execute the action — call Execute to drive it to a terminal state.
func (e *Engine) StartRun(ctx context.Context, action *store.Action, inputs json.RawMessage, reqCtx RequestContext) (*store.Run, error) {
	if err := jsonschema.ValidateJSON(schemaFromStored(action.InputSchema), inputs); err != nil {
		return nil, &ValidationError{Err: err}
	}

	run := &store.Run{
		ID:        "run-" + uuid.NewString(),
		ActionID:  action.ID,
		Inputs:    string(inputs),
		RequestID: reqCtx.RequestID,
		RunType:   "action",
	}

	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		num, err := e.store.NextRunNumber(ctx, tx)
		if err != nil {
			return fmt.Errorf("allocate run number: %w", err)
		}
		run.NumberedID = num
		run.RelativeArtifactsDir = filepath.Join("runs", run.ID)

		artifactsDir := filepath.Join(e.artifactsRoot, run.RelativeArtifactsDir)
		if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
			return fmt.Errorf("create artifacts dir: %w", err)
		}

		if err := e.store.InsertRun(ctx, tx, run); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		inputsPath := filepath.Join(artifactsDir, InputsFileName)
		if err := os.WriteFile(inputsPath, inputs, 0o644); err != nil {
			return fmt.Errorf("write inputs file: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Execute transitions a NOT_RUN run to RUNNING, leases a worker, drives
// the invocation, validates the result against the action's output
// schema, and commits the terminal state. It never returns an error for a
// user-code failure or schema mismatch — those are reflected in the
// returned Run's Status/ErrorMessage; Execute's own error return is
// reserved for infrastructure failures that occur before or after the run
// transitioned (e.g. the DB write itself failing).
func (e *Engine) Execute(ctx context.Context, run *store.Run, action *store.Action, managedParams secrets.ManagedParams) error {
	if err := e.store.TransitionRunToRunning(ctx, run.ID); err != nil {
		return fmt.Errorf("runengine: transition to running: %w", err)
	}
	run.Status = store.RunRunning
	e.bus.Publish(events.Event{Type: events.RunStarted, RunID: run.ID, ActionID: action.ID})

	start := time.Now()
	artifactsDir := filepath.Join(e.artifactsRoot, run.RelativeArtifactsDir)

	worker, err := e.leaseWorker(ctx, action)
	if err != nil {
		// Infrastructure error reaching a worker at all: per spec.md §4.5
		// this is an HTTP 5xx without a Run record — but the Run record
		// already exists (created in StartRun), so the closest equivalent
		// is finishing it FAILED with a synthetic message rather than
		// leaving it stuck RUNNING forever.
		return e.finishFailed(ctx, run, start, fmt.Sprintf("infrastructure error: %v", err))
	}

	managedJSON, err := json.Marshal(managedParams)
	if err != nil {
		e.pool.Release(action.ActionPackageID, worker, false)
		return e.finishFailed(ctx, run, start, fmt.Sprintf("failed to encode managed parameters: %v", err))
	}

	outputPath := filepath.Join(artifactsDir, OutputFileName)
	outputFile, err := os.Create(outputPath)
	if err != nil {
		e.pool.Release(action.ActionPackageID, worker, false)
		return e.finishFailed(ctx, run, start, fmt.Sprintf("failed to create output capture file: %v", err))
	}
	defer outputFile.Close()

	req := procpool.InvocationRequest{
		ActionName:    action.Name,
		Inputs:        json.RawMessage(run.Inputs),
		ManagedParams: managedJSON,
	}

	terminal, invokeErr := worker.Invoke(ctx, req, func(line []byte) {
		outputFile.Write(line)
		outputFile.Write([]byte("\n"))
	})

	if invokeErr != nil {
		worker.MarkUnhealthy()
		e.pool.Release(action.ActionPackageID, worker, false)
		return e.finishFailed(ctx, run, start, fmt.Sprintf("worker error: %v", invokeErr))
	}
	e.pool.Release(action.ActionPackageID, worker, true)

	var line terminalLine
	if err := json.Unmarshal(terminal, &line); err != nil {
		return e.finishFailed(ctx, run, start, fmt.Sprintf("malformed terminal line from worker: %v", err))
	}

	if line.Error != nil {
		return e.finishFailed(ctx, run, start, *line.Error)
	}

	return e.finishResult(ctx, run, action, start, line.Result)
}

func (e *Engine) leaseWorker(ctx context.Context, action *store.Action) (*procpool.Worker, error) {
	w, err := e.pool.Lease(ctx, action.ActionPackageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerUnavailable, err)
	}
	return w, nil
}

// finishResult validates a successful terminal payload against the
// action's output schema (or, if it is shaped like a Response{result,
// error} envelope, extracts and honors its error field without failing
// the run) and commits PASSED or FAILED accordingly.
func (e *Engine) finishResult(ctx context.Context, run *store.Run, action *store.Action, start time.Time, result json.RawMessage) error {
	var envelope responseEnvelope
	if err := json.Unmarshal(result, &envelope); err == nil && looksLikeEnvelope(result) {
		resultStr := string(envelope.Result)
		runTime := time.Since(start).Seconds()
		if err := e.store.FinishRun(ctx, run.ID, store.RunPassed, runTime, &resultStr, envelope.Error); err != nil {
			return fmt.Errorf("runengine: commit passed run: %w", err)
		}
		run.Status = store.RunPassed
		e.recordMetrics(action, store.RunPassed, runTime)
		e.bus.Publish(events.Event{Type: events.RunPassed, RunID: run.ID, ActionID: action.ID})
		return nil
	}

	outputSchema := schemaFromStored(action.OutputSchema)
	if err := jsonschema.Validate(outputSchema, decodeAny(result)); err != nil {
		msg := "Inconsistent value returned from action: " + err.Error()
		return e.finishFailed(ctx, run, start, msg)
	}

	resultStr := string(result)
	runTime := time.Since(start).Seconds()
	if err := e.store.FinishRun(ctx, run.ID, store.RunPassed, runTime, &resultStr, nil); err != nil {
		return fmt.Errorf("runengine: commit passed run: %w", err)
	}
	run.Status = store.RunPassed
	e.recordMetrics(action, store.RunPassed, runTime)
	e.bus.Publish(events.Event{Type: events.RunPassed, RunID: run.ID, ActionID: action.ID})
	return nil
}

func looksLikeEnvelope(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, hasResult := probe["result"]
	_, hasError := probe["error"]
	return hasResult && hasError
}

func decodeAny(raw json.RawMessage) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

func (e *Engine) finishFailed(ctx context.Context, run *store.Run, start time.Time, message string) error {
	runTime := time.Since(start).Seconds()
	if err := e.store.FinishRun(ctx, run.ID, store.RunFailed, runTime, nil, &message); err != nil {
		return fmt.Errorf("runengine: commit failed run: %w", err)
	}
	run.Status = store.RunFailed
	run.ErrorMessage = sql.NullString{String: message, Valid: true}
	e.recordMetrics(nil, store.RunFailed, runTime)
	e.bus.Publish(events.Event{Type: events.RunFailed, RunID: run.ID, Summary: message})
	return nil
}

func (e *Engine) recordMetrics(action *store.Action, status string, runTime float64) {
	if e.metrics == nil {
		return
	}
	e.metrics.RunsTotal.WithLabelValues(status).Inc()
	label := "unknown"
	if action != nil {
		label = action.Name
	}
	e.metrics.RunDuration.WithLabelValues(label).Observe(runTime)
}

// GetRun returns the run with the given id.
func (e *Engine) GetRun(ctx context.Context, id string) (*store.Run, error) {
	return e.store.GetRun(ctx, id)
}

// ListRuns lists runs, optionally scoped to a single action.
func (e *Engine) ListRuns(ctx context.Context, actionID string, limit int) ([]*store.Run, error) {
	return e.store.ListRuns(ctx, actionID, limit)
}

// GetArtifacts lists the non-reserved artifact file names under a run's
// artifacts directory.
func (e *Engine) GetArtifacts(run *store.Run) ([]string, error) {
	dir := filepath.Join(e.artifactsRoot, run.RelativeArtifactsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("runengine: read artifacts dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || reservedArtifactNames[entry.Name()] {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// GetArtifactText returns the text content of the artifacts matching name
// exactly, or matching nameRegexp if name is empty.
func (e *Engine) GetArtifactText(run *store.Run, name, nameRegexp string) (map[string]string, error) {
	names, err := e.matchArtifacts(run, name, nameRegexp)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(e.artifactsRoot, run.RelativeArtifactsDir)
	out := make(map[string]string, len(names))
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return nil, fmt.Errorf("runengine: read artifact %s: %w", n, err)
		}
		out[n] = string(data)
	}
	return out, nil
}

// GetArtifactBinary returns the raw bytes of a single named artifact.
func (e *Engine) GetArtifactBinary(run *store.Run, name string) ([]byte, error) {
	if reservedArtifactNames[name] {
		return nil, fmt.Errorf("runengine: artifact %q is reserved", name)
	}
	dir := filepath.Join(e.artifactsRoot, run.RelativeArtifactsDir)
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("runengine: read artifact %s: %w", name, err)
	}
	return data, nil
}

func (e *Engine) matchArtifacts(run *store.Run, name, nameRegexp string) ([]string, error) {
	all, err := e.GetArtifacts(run)
	if err != nil {
		return nil, err
	}
	if name != "" {
		for _, n := range all {
			if n == name {
				return []string{n}, nil
			}
		}
		return nil, fmt.Errorf("runengine: artifact %q not found", name)
	}
	if nameRegexp == "" {
		return all, nil
	}
	re, err := regexp.Compile(nameRegexp)
	if err != nil {
		return nil, fmt.Errorf("runengine: invalid artifact name regexp: %w", err)
	}
	var matched []string
	for _, n := range all {
		if re.MatchString(n) {
			matched = append(matched, n)
		}
	}
	return matched, nil
}
