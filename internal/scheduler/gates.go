package scheduler

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/events"
	"github.com/marcus-qen/actionserver/internal/scheduler/nextrun"
	"github.com/marcus-qen/actionserver/internal/store"
)

// checkGates evaluates the four admission gates in their documented
// order, short-circuiting on the first failure.
func (s *Scheduler) checkGates(ctx context.Context, sc *store.Schedule, now time.Time) (reason string, ok bool) {
	globalRunning, err := s.store.CountRunningExecutions(ctx, "")
	if err != nil {
		s.logger.Error("count running executions", zap.Error(err))
		return store.SkipPreviousRunning, false
	}
	if globalRunning >= s.cfg.MaxConcurrentGlobal {
		return store.SkipPreviousRunning, false
	}

	perScheduleRunning, err := s.store.CountRunningExecutions(ctx, sc.ID)
	if err != nil {
		s.logger.Error("count running executions", zap.String("schedule_id", sc.ID), zap.Error(err))
		return store.SkipPreviousRunning, false
	}
	s.mu.Lock()
	inFlight := s.activeTargets[sc.ID]
	s.mu.Unlock()
	totalRunning := perScheduleRunning + inFlight
	if sc.SkipIfRunning && totalRunning > 0 {
		return store.SkipPreviousRunning, false
	}
	if sc.MaxConcurrent > 0 && totalRunning >= sc.MaxConcurrent {
		return store.SkipPreviousRunning, false
	}

	if sc.RateLimitEnabled {
		if sc.RateLimitMaxPerHour > 0 && s.rateLimit.CountSince(sc.ID+":hour", now.Add(-time.Hour)) >= sc.RateLimitMaxPerHour {
			return store.SkipRateLimited, false
		}
		if sc.RateLimitMaxPerDay > 0 && s.rateLimit.CountSince(sc.ID+":day", now.Add(-24*time.Hour)) >= sc.RateLimitMaxPerDay {
			return store.SkipRateLimited, false
		}
	}

	if sc.DependsOnScheduleID.Valid && sc.DependsOnScheduleID.String != "" {
		latest, err := s.store.LatestExecution(ctx, sc.DependsOnScheduleID.String)
		if err == store.ErrNotFound {
			return store.SkipDependencyFailed, false
		}
		if err != nil {
			s.logger.Error("load dependency execution", zap.String("schedule_id", sc.ID), zap.Error(err))
			return store.SkipDependencyFailed, false
		}
		if !dependencySatisfied(sc.DependencyMode, latest.Status) {
			return store.SkipDependencyFailed, false
		}
	}

	return "", true
}

func dependencySatisfied(mode, status string) bool {
	switch mode {
	case "after_success":
		return status == store.ExecCompleted
	case "after_any":
		return status == store.ExecCompleted || status == store.ExecFailed || status == store.ExecSkipped
	default:
		return status == store.ExecCompleted
	}
}

// recordSkip writes a SKIPPED ScheduleExecution carrying reason. A
// PREVIOUS_RUNNING skip leaves next_run_at unchanged, so the next tick
// re-evaluates it from the same due time; RATE_LIMITED and
// DEPENDENCY_FAILED skips advance next_run_at (see below).
func (s *Scheduler) recordSkip(ctx context.Context, sc *store.Schedule, now time.Time, reason string) {
	exec := &store.ScheduleExecution{
		ScheduleID:    sc.ID,
		ScheduledTime: now,
		Status:        store.ExecSkipped,
		SkipReason:    reason,
		AttemptNumber: 1,
	}
	if err := s.store.InsertScheduleExecution(ctx, exec); err != nil {
		s.logger.Error("record schedule skip", zap.String("schedule_id", sc.ID), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.ScheduleSkips.WithLabelValues(reason).Inc()
	}
	s.bus.Publish(events.Event{Type: events.ScheduleExecutionSkipped, ScheduleID: sc.ID, Summary: reason})

	// A rate-limited or dependency-blocked schedule still needs its
	// next_run_at nudged forward, or it would be re-selected as due on
	// every subsequent tick until the condition clears on its own. Unlike
	// a real dispatch, a skip never touches last_run_at.
	if reason == store.SkipRateLimited || reason == store.SkipDependencyFailed {
		next, hasNext, err := computeNext(sc, now)
		if err != nil {
			s.logger.Error("compute next run after skip", zap.String("schedule_id", sc.ID), zap.Error(err))
			return
		}
		var nextArg *time.Time
		if hasNext {
			nextArg = &next
		}
		if err := s.store.UpdateScheduleAfterTick(ctx, sc.ID, nil, nextArg, false); err != nil {
			s.logger.Error("advance schedule after skip", zap.String("schedule_id", sc.ID), zap.Error(err))
		}
	}
}

// computeNext dispatches to the nextrun package by schedule kind.
func computeNext(sc *store.Schedule, after time.Time) (time.Time, bool, error) {
	switch sc.ScheduleType {
	case store.ScheduleCron:
		next, err := nextrun.Cron(sc.CronExpression, sc.Timezone, after)
		return next, err == nil, err
	case store.ScheduleInterval:
		seconds := int64(0)
		if sc.IntervalSeconds.Valid {
			seconds = sc.IntervalSeconds.Int64
		}
		return nextrun.Interval(seconds, after), true, nil
	case store.ScheduleWeekday:
		next, err := nextrun.Weekday(sc.WeekdayConfigJSON, sc.Timezone, after)
		return next, err == nil, err
	case store.ScheduleOnce:
		_, _ = nextrun.Once()
		return time.Time{}, false, nil
	default:
		return time.Time{}, false, nil
	}
}

func nullTime(t time.Time) sql.NullTime  { return sql.NullTime{Time: t, Valid: true} }
func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }
func nullInt64(n int64) sql.NullInt64    { return sql.NullInt64{Int64: n, Valid: true} }
