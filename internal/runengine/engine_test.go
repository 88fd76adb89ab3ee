package runengine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/events"
	"github.com/marcus-qen/actionserver/internal/obs"
	"github.com/marcus-qen/actionserver/internal/procpool"
	"github.com/marcus-qen/actionserver/internal/secrets"
	"github.com/marcus-qen/actionserver/internal/store"
)

func newTestEngine(t *testing.T, launcher procpool.Launcher) (*Engine, *store.Store, *store.Action) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	pkg := &store.ActionPackage{Name: "calculator", Directory: "/pkgs/calculator"}
	if err := st.UpsertActionPackage(ctx, pkg); err != nil {
		t.Fatalf("upsert package: %v", err)
	}
	action := &store.Action{
		ActionPackageID: pkg.ID,
		Name:            "calculator_sum",
		Kind:            "action",
		InputSchema:     `{"type":"object","properties":{"v1":{"type":"number"},"v2":{"type":"number"}},"required":["v1","v2"]}`,
		OutputSchema:    `{"type":"number"}`,
	}
	if err := st.UpsertAction(ctx, action); err != nil {
		t.Fatalf("upsert action: %v", err)
	}

	pool := procpool.New(procpool.Config{MinProcesses: 1, MaxProcesses: 1, ReuseProcesses: true}, launcher)
	bus := events.NewBus(16)
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	logger := zap.NewNop()
	artifactsRoot := filepath.Join(t.TempDir(), "artifacts")

	engine := New(st, pool, bus, metrics, artifactsRoot, logger)
	return engine, st, action
}

func TestStartRunPersistsInputsAndArtifactsDir(t *testing.T) {
	engine, _, action := newTestEngine(t, nil)
	ctx := context.Background()

	run, err := engine.StartRun(ctx, action, json.RawMessage(`{"v1":1,"v2":2}`), RequestContext{})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if run.Status != store.RunNotRun {
		t.Fatalf("expected NOT_RUN, got %s", run.Status)
	}

	inputsPath := filepath.Join(engine.artifactsRoot, run.RelativeArtifactsDir, InputsFileName)
	data, err := os.ReadFile(inputsPath)
	if err != nil {
		t.Fatalf("read inputs file: %v", err)
	}
	if string(data) != `{"v1":1,"v2":2}` {
		t.Fatalf("unexpected inputs file contents: %s", data)
	}
}

func TestStartRunRejectsInvalidInputs(t *testing.T) {
	engine, _, action := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.StartRun(ctx, action, json.RawMessage(`{"v1":"not a number"}`), RequestContext{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var verr *ValidationError
	if !asValidationError(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func asValidationError(err error, target **ValidationError) bool {
	if ve, ok := err.(*ValidationError); ok {
		*target = ve
		return true
	}
	return false
}

func sumLauncher(ctx context.Context, packageID string) (procpool.WorkerConfig, error) {
	script := `while IFS= read -r line; do printf '{"result":3.0}\n'; done`
	return procpool.WorkerConfig{Command: "sh", Args: []string{"-c", script}}, nil
}

func TestExecuteHappyPath(t *testing.T) {
	engine, _, action := newTestEngine(t, sumLauncher)
	ctx := context.Background()

	run, err := engine.StartRun(ctx, action, json.RawMessage(`{"v1":1,"v2":2}`), RequestContext{})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	if err := engine.Execute(ctx, run, action, secrets.ManagedParams{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.Status != store.RunPassed {
		t.Fatalf("expected PASSED, got %s", run.Status)
	}

	got, err := engine.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != store.RunPassed || !got.Result.Valid || got.Result.String != "3.0" {
		t.Fatalf("unexpected persisted run: %+v", got)
	}
}

func badOutputLauncher(ctx context.Context, packageID string) (procpool.WorkerConfig, error) {
	script := `while IFS= read -r line; do printf '{"result":null}\n'; done`
	return procpool.WorkerConfig{Command: "sh", Args: []string{"-c", script}}, nil
}

func TestExecuteOutputSchemaMismatchFailsRun(t *testing.T) {
	engine, _, action := newTestEngine(t, badOutputLauncher)
	ctx := context.Background()

	run, err := engine.StartRun(ctx, action, json.RawMessage(`{"v1":1,"v2":2}`), RequestContext{})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := engine.Execute(ctx, run, action, secrets.ManagedParams{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.Status != store.RunFailed {
		t.Fatalf("expected FAILED, got %s", run.Status)
	}
	if run.ErrorMessage.String != "Inconsistent value returned from action: None is not of type 'number'" {
		t.Fatalf("unexpected error message: %q", run.ErrorMessage.String)
	}
}
