package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/events"
	"github.com/marcus-qen/actionserver/internal/obs"
	"github.com/marcus-qen/actionserver/internal/procpool"
	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/store"
	"github.com/marcus-qen/actionserver/internal/workitems"
)

func newTestScheduler(t *testing.T, launcher procpool.Launcher) (*Scheduler, *store.Store, *store.Action) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	pkg := &store.ActionPackage{Name: "reports", Directory: "/pkgs/reports"}
	if err := st.UpsertActionPackage(ctx, pkg); err != nil {
		t.Fatalf("upsert package: %v", err)
	}
	action := &store.Action{
		ActionPackageID: pkg.ID,
		Name:            "reports_generate",
		Kind:            "action",
		InputSchema:     `{"type":"object"}`,
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
	engine := runengine.New(st, pool, bus, metrics, artifactsRoot, logger)
	queue := workitems.New(st)

	s := New(st, engine, queue, bus, metrics, logger)
	return s, st, action
}

func okLauncher(ctx context.Context, packageID string) (procpool.WorkerConfig, error) {
	script := `while IFS= read -r line; do printf '{"result":7}\n'; done`
	return procpool.WorkerConfig{Command: "sh", Args: []string{"-c", script}}, nil
}

func insertDueSchedule(t *testing.T, st *store.Store, action *store.Action, now time.Time, mutate func(*store.Schedule)) *store.Schedule {
	t.Helper()
	sc := &store.Schedule{
		Name:            "nightly-report",
		Enabled:         true,
		ScheduleType:    store.ScheduleInterval,
		IntervalSeconds: sql.NullInt64{Int64: 3600, Valid: true},
		Timezone:        "UTC",
		ActionID:        action.ID,
		InputsJSON:      `{}`,
		ExecutionMode:   store.ExecutionModeRun,
		NextRunAt:       sql.NullTime{Time: now, Valid: true},
	}
	if mutate != nil {
		mutate(sc)
	}
	if err := st.InsertSchedule(context.Background(), sc); err != nil {
		t.Fatalf("insert schedule: %v", err)
	}
	return sc
}

func TestRunOnceDispatchesDueRunSchedule(t *testing.T) {
	s, st, action := newTestScheduler(t, okLauncher)
	now := time.Now().UTC()
	sc := insertDueSchedule(t, st, action, now, nil)

	if err := s.runOnce(context.Background(), now); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	latest, err := st.LatestExecution(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("latest execution: %v", err)
	}
	if latest.Status != store.ExecCompleted {
		t.Fatalf("expected COMPLETED, got %s (error=%q)", latest.Status, latest.ErrorMessage.String)
	}

	updated, err := st.GetSchedule(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !updated.NextRunAt.Valid || !updated.NextRunAt.Time.After(now) {
		t.Fatalf("expected next_run_at advanced past %v, got %+v", now, updated.NextRunAt)
	}
}

func TestAdmitSkipsWhenPreviousStillRunning(t *testing.T) {
	s, st, action := newTestScheduler(t, okLauncher)
	now := time.Now().UTC()
	sc := insertDueSchedule(t, st, action, now, func(sc *store.Schedule) { sc.SkipIfRunning = true })

	if err := st.InsertScheduleExecution(context.Background(), &store.ScheduleExecution{
		ScheduleID:    sc.ID,
		ScheduledTime: now.Add(-time.Minute),
		Status:        store.ExecRunning,
		AttemptNumber: 1,
	}); err != nil {
		t.Fatalf("seed running execution: %v", err)
	}

	s.admit(context.Background(), sc, now, 1)

	latest, err := st.LatestExecution(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("latest execution: %v", err)
	}
	if latest.Status != store.ExecSkipped || latest.SkipReason != store.SkipPreviousRunning {
		t.Fatalf("expected SKIPPED/PREVIOUS_RUNNING, got %s/%s", latest.Status, latest.SkipReason)
	}
}

func TestCheckGatesBlocksOnRateLimit(t *testing.T) {
	s, st, action := newTestScheduler(t, okLauncher)
	now := time.Now().UTC()
	sc := insertDueSchedule(t, st, action, now, func(sc *store.Schedule) {
		sc.RateLimitEnabled = true
		sc.RateLimitMaxPerHour = 1
	})

	s.rateLimit.Record(sc.ID+":hour", now)

	reason, ok := s.checkGates(context.Background(), sc, now)
	if ok {
		t.Fatalf("expected rate limit gate to block admission")
	}
	if reason != store.SkipRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %s", reason)
	}
}

func TestCheckGatesBlocksOnUnsatisfiedDependency(t *testing.T) {
	s, st, action := newTestScheduler(t, okLauncher)
	now := time.Now().UTC()
	upstream := insertDueSchedule(t, st, action, now, func(sc *store.Schedule) { sc.Name = "upstream" })
	downstream := insertDueSchedule(t, st, action, now, func(sc *store.Schedule) {
		sc.Name = "downstream"
		sc.DependsOnScheduleID = sql.NullString{String: upstream.ID, Valid: true}
		sc.DependencyMode = "after_success"
	})

	reason, ok := s.checkGates(context.Background(), downstream, now)
	if ok {
		t.Fatalf("expected dependency gate to block admission before upstream has ever run")
	}
	if reason != store.SkipDependencyFailed {
		t.Fatalf("expected DEPENDENCY_FAILED, got %s", reason)
	}

	if err := st.InsertScheduleExecution(context.Background(), &store.ScheduleExecution{
		ScheduleID:    upstream.ID,
		ScheduledTime: now,
		Status:        store.ExecCompleted,
		AttemptNumber: 1,
	}); err != nil {
		t.Fatalf("seed upstream completion: %v", err)
	}

	if _, ok := s.checkGates(context.Background(), downstream, now); !ok {
		t.Fatalf("expected dependency gate to admit once upstream has completed")
	}
}
