package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrationsIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()
}

func TestActionPackageUpsertIsIdempotentOnName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pkg := &ActionPackage{Name: "calculator", Directory: "/pkgs/calculator", EnvironmentHash: "h1"}
	if err := s.UpsertActionPackage(ctx, pkg); err != nil {
		t.Fatalf("insert: %v", err)
	}
	firstID := pkg.ID

	again := &ActionPackage{Name: "calculator", Directory: "/pkgs/calculator-v2", EnvironmentHash: "h2"}
	if err := s.UpsertActionPackage(ctx, again); err != nil {
		t.Fatalf("update: %v", err)
	}
	if again.ID != firstID {
		t.Fatalf("expected same id across re-import, got %s vs %s", again.ID, firstID)
	}

	got, err := s.GetActionPackageByName(ctx, "calculator")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Directory != "/pkgs/calculator-v2" || got.EnvironmentHash != "h2" {
		t.Fatalf("expected updated fields, got %+v", got)
	}
}

func TestDisableActionsNotInNeverDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pkg := &ActionPackage{Name: "pkg", Directory: "/pkgs/pkg"}
	if err := s.UpsertActionPackage(ctx, pkg); err != nil {
		t.Fatalf("pkg: %v", err)
	}
	a1 := &Action{ActionPackageID: pkg.ID, Name: "sum", Kind: "action"}
	a2 := &Action{ActionPackageID: pkg.ID, Name: "diff", Kind: "action"}
	if err := s.UpsertAction(ctx, a1); err != nil {
		t.Fatalf("a1: %v", err)
	}
	if err := s.UpsertAction(ctx, a2); err != nil {
		t.Fatalf("a2: %v", err)
	}

	if err := s.DisableActionsNotIn(ctx, pkg.ID, []string{"sum"}); err != nil {
		t.Fatalf("disable: %v", err)
	}

	got, err := s.GetAction(ctx, a2.ID)
	if err != nil {
		t.Fatalf("get a2: %v", err)
	}
	if got.Enabled {
		t.Fatalf("expected diff to be disabled")
	}
	if _, err := s.GetAction(ctx, a2.ID); err != nil {
		t.Fatalf("disabled action should still resolve by id: %v", err)
	}
}

func TestRunStateMachineGuardsInvalidTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pkg := &ActionPackage{Name: "pkg", Directory: "/d"}
	s.UpsertActionPackage(ctx, pkg)
	act := &Action{ActionPackageID: pkg.ID, Name: "sum", Kind: "action"}
	s.UpsertAction(ctx, act)

	var runID string
	tx, err := s.DB().Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	num, err := s.NextRunNumber(ctx, tx)
	if err != nil {
		t.Fatalf("next run number: %v", err)
	}
	if num != 1 {
		t.Fatalf("expected first run number 1, got %d", num)
	}
	run := &Run{ActionID: act.ID, NumberedID: num, Inputs: `{"v1":1,"v2":2}`, RelativeArtifactsDir: "runs/x"}
	if err := s.InsertRun(ctx, tx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	runID = run.ID

	if err := s.FinishRun(ctx, runID, RunPassed, 0.1, nil, nil); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition finishing a NOT_RUN run, got %v", err)
	}

	if err := s.TransitionRunToRunning(ctx, runID); err != nil {
		t.Fatalf("transition to running: %v", err)
	}
	if err := s.TransitionRunToRunning(ctx, runID); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition on double transition, got %v", err)
	}

	result := `3.0`
	if err := s.FinishRun(ctx, runID, RunPassed, 0.05, &result, nil); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	got, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != RunPassed || !got.Result.Valid || got.Result.String != "3.0" {
		t.Fatalf("unexpected run state: %+v", got)
	}
}

func TestWorkItemReserveIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SeedWorkItem(ctx, "emails", `{"to":"a@example.com"}`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	item, err := s.ReserveWorkItem(ctx, "emails", "consumer-1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if item.ID != id || item.State != WorkItemInProgress {
		t.Fatalf("unexpected reserved item: %+v", item)
	}

	if _, err := s.ReserveWorkItem(ctx, "emails", "consumer-2"); err != ErrNotFound {
		t.Fatalf("expected queue to be empty for a second consumer, got %v", err)
	}

	if err := s.ReleaseWorkItem(ctx, id, WorkItemDone, "", "", ""); err != nil {
		t.Fatalf("release: %v", err)
	}

	stats, err := s.GetQueueStats(ctx, "emails")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Done != 1 || stats.Pending != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestScheduleDueOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pkg := &ActionPackage{Name: "pkg", Directory: "/d"}
	s.UpsertActionPackage(ctx, pkg)
	act := &Action{ActionPackageID: pkg.ID, Name: "sum", Kind: "action"}
	s.UpsertAction(ctx, act)

	now := time.Now().UTC()
	low := &Schedule{Name: "low", ScheduleType: ScheduleCron, CronExpression: "* * * * *", Timezone: "UTC",
		ActionID: act.ID, ExecutionMode: ExecutionModeRun, MaxConcurrent: 1, Priority: 1,
		RetryMaxAttempts: 1, RetryBackoffMultiplier: 1, Enabled: true}
	high := &Schedule{Name: "high", ScheduleType: ScheduleCron, CronExpression: "* * * * *", Timezone: "UTC",
		ActionID: act.ID, ExecutionMode: ExecutionModeRun, MaxConcurrent: 1, Priority: 10,
		RetryMaxAttempts: 1, RetryBackoffMultiplier: 1, Enabled: true}
	low.NextRunAt.Time, low.NextRunAt.Valid = now.Add(-time.Minute), true
	high.NextRunAt.Time, high.NextRunAt.Valid = now.Add(-time.Minute), true

	if err := s.InsertSchedule(ctx, low); err != nil {
		t.Fatalf("insert low: %v", err)
	}
	if err := s.InsertSchedule(ctx, high); err != nil {
		t.Fatalf("insert high: %v", err)
	}

	due, err := s.DueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 || due[0].Name != "high" {
		t.Fatalf("expected high-priority schedule first, got %+v", due)
	}
}
