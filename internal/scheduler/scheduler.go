// Package scheduler drives Schedule admission (C7): on each tick it pulls
// due schedules, runs them through a sequence of admission gates, and
// dispatches admitted ones to the run engine or the work-items queue.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/events"
	"github.com/marcus-qen/actionserver/internal/notify"
	"github.com/marcus-qen/actionserver/internal/obs"
	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/secrets"
	"github.com/marcus-qen/actionserver/internal/store"
	"github.com/marcus-qen/actionserver/internal/workitems"
)

// Config holds the scheduler's tunables.
type Config struct {
	CheckInterval       time.Duration
	MaxConcurrentGlobal int
}

func defaultConfig() Config {
	return Config{CheckInterval: 10 * time.Second, MaxConcurrentGlobal: 100}
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithCheckInterval overrides the default 10s tick period.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.cfg.CheckInterval = d }
}

// WithMaxConcurrentGlobal overrides the default global concurrency cap.
func WithMaxConcurrentGlobal(n int) Option {
	return func(s *Scheduler) { s.cfg.MaxConcurrentGlobal = n }
}

// WithSMTP configures the outbound mail relay used for notify_on_* emails.
// Without it, schedules naming a notification_email are silently skipped.
func WithSMTP(cfg notify.SMTPConfig) Option {
	return func(s *Scheduler) { s.smtp = &cfg }
}

// Scheduler is the scheduling loop singleton, constructed once in main and
// passed by reference.
type Scheduler struct {
	cfg     Config
	store   *store.Store
	engine  *runengine.Engine
	queue   *workitems.Queue
	bus     *events.Bus
	metrics *obs.Metrics
	logger  *zap.Logger
	smtp    *notify.SMTPConfig

	rateLimit *limiter

	mu            sync.Mutex
	activeTargets map[string]int // schedule id -> count of in-flight executions started by this process
	retryTimers   map[string]*time.Timer

	stop chan struct{}
	done chan struct{}
}

// New constructs a Scheduler. Call Start to begin ticking.
func New(st *store.Store, engine *runengine.Engine, queue *workitems.Queue, bus *events.Bus, metrics *obs.Metrics, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:           defaultConfig(),
		store:         st,
		engine:        engine,
		queue:         queue,
		bus:           bus,
		metrics:       metrics,
		logger:        logger.Named("scheduler"),
		rateLimit:     newLimiter(),
		activeTargets: make(map[string]int),
		retryTimers:   make(map[string]*time.Timer),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the ticker loop until Stop is called. It blocks; call it in
// its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			if err := s.runOnce(ctx, now.UTC()); err != nil {
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Stop halts the ticker loop and cancels any pending retry timers, then
// waits for Start to return.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.mu.Lock()
	for id, timer := range s.retryTimers {
		timer.Stop()
		delete(s.retryTimers, id)
	}
	s.mu.Unlock()
	<-s.done
}

// runOnce is a pure function of now: it evaluates and dispatches every
// currently due schedule exactly once. Exported shape (lowercase, same
// package) for direct testing without waiting on the ticker.
func (s *Scheduler) runOnce(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SchedulerTickSecs.Observe(time.Since(start).Seconds())
		}
	}()

	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		return fmt.Errorf("scheduler: list due schedules: %w", err)
	}
	for _, sc := range due {
		s.admit(ctx, sc, now, 1)
	}
	return nil
}

// admit evaluates the four admission gates in order for one schedule and,
// on success, dispatches it. attempt is 1 for the initial tick and
// increases for each subsequent scheduler-driven retry.
func (s *Scheduler) admit(ctx context.Context, sc *store.Schedule, now time.Time, attempt int) {
	if reason, ok := s.checkGates(ctx, sc, now); !ok {
		s.recordSkip(ctx, sc, now, reason)
		return
	}

	s.mu.Lock()
	s.activeTargets[sc.ID]++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.activeTargets[sc.ID]--
		s.mu.Unlock()
	}()

	exec := &store.ScheduleExecution{
		ScheduleID:      sc.ID,
		ScheduledTime:   now,
		ActualStartTime: nullTime(now),
		Status:          store.ExecRunning,
		AttemptNumber:   attempt,
	}
	if err := s.store.InsertScheduleExecution(ctx, exec); err != nil {
		s.logger.Error("insert schedule execution", zap.String("schedule_id", sc.ID), zap.Error(err))
		return
	}
	s.bus.Publish(events.Event{Type: events.ScheduleExecutionStarted, ScheduleID: sc.ID})

	s.rateLimit.Record(sc.ID+":hour", now)
	s.rateLimit.Record(sc.ID+":day", now)

	var runErr error
	var resultJSON, errMessage string
	var itemID string

	switch sc.ExecutionMode {
	case store.ExecutionModeWorkItem:
		itemID, runErr = s.queue.Seed(ctx, sc.WorkItemQueue, json.RawMessage(sc.InputsJSON))
	default:
		resultJSON, errMessage, runErr = s.dispatchRun(ctx, sc, exec)
	}

	success := runErr == nil && errMessage == ""
	willRetry := !success && sc.RetryEnabled && attempt < sc.RetryMaxAttempts
	s.finishExecution(ctx, sc, exec, now, success, willRetry, resultJSON, errMessage, itemID, runErr)

	if willRetry {
		s.scheduleRetry(sc, now, attempt)
		return
	}

	s.advanceSchedule(ctx, sc, now)
	s.notifyOutcome(ctx, sc, exec, success, errMessage)
}

// dispatchRun runs a `run`-mode schedule through the run engine to
// completion and returns its result/error text.
func (s *Scheduler) dispatchRun(ctx context.Context, sc *store.Schedule, exec *store.ScheduleExecution) (resultJSON, errMessage string, err error) {
	action, err := s.store.GetAction(ctx, sc.ActionID)
	if err != nil {
		return "", "", fmt.Errorf("scheduler: load action %s: %w", sc.ActionID, err)
	}
	run, err := s.engine.StartRun(ctx, action, json.RawMessage(sc.InputsJSON), runengine.RequestContext{
		RequestID: "schedule:" + sc.ID,
	})
	if err != nil {
		return "", "", fmt.Errorf("scheduler: start run: %w", err)
	}
	exec.RunID = nullString(run.ID)

	if err := s.engine.Execute(ctx, run, action, secrets.ManagedParams{}); err != nil {
		return "", "", fmt.Errorf("scheduler: execute run: %w", err)
	}
	if run.Status == store.RunFailed {
		return "", run.ErrorMessage.String, nil
	}
	return run.Result.String, "", nil
}

func (s *Scheduler) finishExecution(ctx context.Context, sc *store.Schedule, exec *store.ScheduleExecution, now time.Time, success, willRetry bool, resultJSON, errMessage, itemID string, runErr error) {
	end := time.Now().UTC()
	exec.ActualEndTime = nullTime(end)
	if exec.ActualStartTime.Valid {
		exec.DurationMs = nullInt64(end.Sub(exec.ActualStartTime.Time).Milliseconds())
	}
	if itemID != "" {
		exec.WorkItemID = nullString(itemID)
	}
	failedStatus := store.ExecFailed
	if willRetry {
		failedStatus = store.ExecRetrying
	}
	switch {
	case runErr != nil:
		exec.Status = failedStatus
		exec.ErrorMessage = nullString(runErr.Error())
	case !success:
		exec.Status = failedStatus
		exec.ErrorMessage = nullString(errMessage)
	default:
		exec.Status = store.ExecCompleted
		if resultJSON != "" {
			exec.ResultJSON = nullString(resultJSON)
		}
	}
	if err := s.store.UpdateScheduleExecution(ctx, exec); err != nil {
		s.logger.Error("update schedule execution", zap.String("execution_id", exec.ID), zap.Error(err))
	}
	s.bus.Publish(events.Event{Type: events.ScheduleExecutionDone, ScheduleID: sc.ID, Summary: exec.Status})
}

// advanceSchedule computes the schedule's next run (disabling `once`
// schedules) and updates last_run_at/next_run_at/updated_at.
func (s *Scheduler) advanceSchedule(ctx context.Context, sc *store.Schedule, ranAt time.Time) {
	next, hasNext, err := computeNext(sc, ranAt)
	if err != nil {
		s.logger.Error("compute next run", zap.String("schedule_id", sc.ID), zap.Error(err))
	}
	var nextArg *time.Time
	if hasNext {
		nextArg = &next
	}
	disable := sc.ScheduleType == store.ScheduleOnce
	if err := s.store.UpdateScheduleAfterTick(ctx, sc.ID, &ranAt, nextArg, disable); err != nil {
		s.logger.Error("advance schedule", zap.String("schedule_id", sc.ID), zap.Error(err))
	}
}

// scheduleRetry re-attempts a failed schedule (either execution mode) after an
// exponential backoff delay, mirroring the teacher's cancelable
// timer-goroutine pattern: the timer is tracked in retryTimers so Stop can
// cancel any still-pending attempt.
func (s *Scheduler) scheduleRetry(sc *store.Schedule, now time.Time, attempt int) {
	delay := time.Duration(float64(sc.RetryDelaySeconds)*pow(sc.RetryBackoffMultiplier, attempt-1)) * time.Second
	s.bus.Publish(events.Event{Type: events.ScheduleRetryScheduled, ScheduleID: sc.ID, Detail: map[string]any{"attempt": attempt + 1, "delay_seconds": delay.Seconds()}})

	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retryTimers, sc.ID)
		s.mu.Unlock()
		s.admit(context.Background(), sc, time.Now().UTC(), attempt+1)
	})
	s.mu.Lock()
	s.retryTimers[sc.ID] = timer
	s.mu.Unlock()
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (s *Scheduler) notifyOutcome(ctx context.Context, sc *store.Schedule, exec *store.ScheduleExecution, success bool, errMessage string) {
	if success && !sc.NotifyOnSuccess {
		return
	}
	if !success && !sc.NotifyOnFailure {
		return
	}

	payload := notify.WebhookPayload{
		ScheduleID:    sc.ID,
		ScheduleName:  sc.Name,
		ExecutionID:   exec.ID,
		Success:       success,
		Status:        exec.Status,
		Error:         errMessage,
		ScheduledTime: exec.ScheduledTime.Format(time.RFC3339),
	}
	if exec.ActualStartTime.Valid {
		payload.ActualStartTime = exec.ActualStartTime.Time.Format(time.RFC3339)
	}
	if exec.DurationMs.Valid {
		payload.DurationMs = exec.DurationMs.Int64
	}

	var sendErr error
	if sc.NotificationWebhookURL != "" {
		if err := notify.Webhook(ctx, sc.NotificationWebhookURL, payload); err != nil {
			sendErr = err
		}
	}
	if sc.NotificationEmail != "" && s.smtp != nil {
		subject := fmt.Sprintf("Schedule %s: %s", sc.Name, exec.Status)
		body := fmt.Sprintf("Schedule %s finished with status %s.\n%s", sc.Name, exec.Status, errMessage)
		if err := notify.Email(*s.smtp, sc.NotificationEmail, subject, body); err != nil && sendErr == nil {
			sendErr = err
		}
	}
	if sendErr != nil {
		exec.NotificationErr = sendErr.Error()
		s.logger.Warn("notification failed", zap.String("schedule_id", sc.ID), zap.Error(sendErr))
	} else {
		exec.NotificationSent = true
	}
	if err := s.store.UpdateScheduleExecution(ctx, exec); err != nil {
		s.logger.Error("record notification outcome", zap.String("execution_id", exec.ID), zap.Error(err))
	}
}
