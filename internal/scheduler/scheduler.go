// Package scheduler fires ScheduledActions — cron, interval, one-shot,
// or event-triggered — by starting a BackgroundTask for each run and
// recording the outcome once that task settles.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/gathering/internal/apperrors"
	"github.com/kandev/gathering/internal/background"
	"github.com/kandev/gathering/internal/common/config"
	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/event"
	"github.com/kandev/gathering/internal/store"
)

// runContext is what the scheduler keeps in memory to correlate a
// BackgroundTask's settlement back to the ScheduledActionRun and
// ScheduledAction that launched it. Only the Store's persisted state
// needs to survive a restart; this routing table does not.
type runContext struct {
	run      *store.ScheduledActionRun
	actionID string
}

// Scheduler is the clock loop that keeps ScheduledActions firing.
type Scheduler struct {
	store    store.Store
	executor *background.Executor
	bus      *event.Bus
	log      *logger.Logger

	tickInterval      time.Duration
	defaultRetryLimit int
	defaultRetryDelay time.Duration

	mu           sync.Mutex
	runsByTask   map[string]*runContext
	retryCounts  map[string]int
	cancel       context.CancelFunc
	stopped      chan struct{}
	subscription event.Subscription
}

// New builds a Scheduler. It does not start its clock loop; call Start.
func New(cfg config.SchedulerConfig, st store.Store, exec *background.Executor, bus *event.Bus, log *logger.Logger) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Scheduler{
		store:             st,
		executor:          exec,
		bus:               bus,
		log:               log.WithFields(zap.String("component", "scheduler")),
		tickInterval:      tick,
		defaultRetryLimit: cfg.DefaultRetryLimit,
		defaultRetryDelay: cfg.DefaultRetryDelay,
		runsByTask:        make(map[string]*runContext),
		retryCounts:       make(map[string]int),
	}
}

func (s *Scheduler) emit(kind event.Kind, payload map[string]any, topics ...string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.New(kind, nil, payload, topics...))
}

// Start subscribes to background-task settlement events and begins the
// clock loop on a ticker. Call Stop to shut it down.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	if s.bus != nil {
		s.subscription = s.bus.Subscribe(nil, "", s.onBusEvent)
	}

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()
}

// Stop cancels the clock loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.subscription != nil {
		s.subscription.Unsubscribe()
	}
	if s.stopped != nil {
		<-s.stopped
	}
}

func (s *Scheduler) onBusEvent(evt *event.Event) error {
	switch evt.Kind {
	case event.KindBackgroundCompleted:
		s.handleSettled(context.Background(), evt, true)
	case event.KindBackgroundFailed, event.KindBackgroundTimeout:
		s.handleSettled(context.Background(), evt, false)
	}
	return nil
}

func (s *Scheduler) handleSettled(ctx context.Context, evt *event.Event, success bool) {
	taskID, _ := evt.Payload["task_id"].(string)
	if taskID == "" {
		return
	}

	s.mu.Lock()
	rc, ok := s.runsByTask[taskID]
	if ok {
		delete(s.runsByTask, taskID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	summary := "completed"
	if !success {
		if reason, ok := evt.Payload["reason"].(string); ok {
			summary = reason
		} else {
			summary = "failed"
		}
	}
	rc.run.Success = success
	rc.run.ResultSummary = summary
	if err := s.store.UpdateScheduledActionRun(ctx, rc.run); err != nil {
		s.log.Error("failed to persist scheduled action run result", zap.String("run_id", rc.run.ID), zap.Error(err))
	}

	s.settleAction(ctx, rc.actionID, success, rc.run.RetryCount)
}

func (s *Scheduler) settleAction(ctx context.Context, actionID string, success bool, retryCount int) {
	action, err := s.store.GetScheduledAction(ctx, actionID)
	if err != nil {
		s.log.Error("failed to reload scheduled action after run settled", zap.String("action_id", actionID), zap.Error(err))
		return
	}

	t := now()
	action.LastRunAt = &t
	if success {
		action.ExecutionCount++
		action.LastRunStatus = "completed"
		s.mu.Lock()
		delete(s.retryCounts, actionID)
		s.mu.Unlock()
	} else {
		action.LastRunStatus = "failed"
	}

	if !success && action.RetryOnFailure && action.Status == store.ActionActive {
		maxRetries := action.MaxRetries
		if maxRetries <= 0 {
			maxRetries = s.defaultRetryLimit
		}
		if retryCount < maxRetries {
			delay := time.Duration(action.RetryDelaySeconds) * time.Second
			if delay <= 0 {
				delay = s.defaultRetryDelay
			}
			retryAt := t.Add(delay)
			action.NextRunAt = &retryAt
			s.mu.Lock()
			s.retryCounts[actionID] = retryCount + 1
			s.mu.Unlock()
			if err := s.store.UpsertScheduledAction(ctx, action); err != nil {
				s.log.Error("failed to persist retry schedule", zap.String("action_id", actionID), zap.Error(err))
			}
			s.emit(event.KindScheduleRetried, map[string]any{"action_id": actionID, "retry_count": retryCount + 1})
			return
		}
	}

	if action.MaxExecutions != nil && action.ExecutionCount >= *action.MaxExecutions {
		action.Status = store.ActionCompleted
	} else if action.Type == store.ScheduleOnce {
		action.Status = store.ActionCompleted
	} else if action.Type == store.ScheduleCron || action.Type == store.ScheduleInterval {
		if next, err := computeNextRun(action, t); err == nil {
			action.NextRunAt = &next
		} else {
			s.log.Error("failed to compute next run", zap.String("action_id", actionID), zap.Error(err))
		}
	}

	if err := s.store.UpsertScheduledAction(ctx, action); err != nil {
		s.log.Error("failed to persist settled action", zap.String("action_id", actionID), zap.Error(err))
	}
}

// tick loads every active action and fires the ones whose NextRunAt has
// arrived, honoring start/end dates and max_executions.
func (s *Scheduler) tick(ctx context.Context) {
	actions, err := s.store.ListActiveActions(ctx)
	if err != nil {
		s.log.Error("failed to list active actions", zap.Error(err))
		return
	}

	t := now()
	for _, action := range actions {
		if action.StartDate != nil && t.Before(*action.StartDate) {
			continue
		}
		if action.EndDate != nil && t.After(*action.EndDate) {
			action.Status = store.ActionCompleted
			_ = s.store.UpsertScheduledAction(ctx, action)
			continue
		}
		if action.MaxExecutions != nil && action.ExecutionCount >= *action.MaxExecutions {
			action.Status = store.ActionCompleted
			_ = s.store.UpsertScheduledAction(ctx, action)
			continue
		}
		if action.Type == store.ScheduleEvent {
			continue
		}
		if action.NextRunAt == nil {
			next, err := computeNextRun(action, t)
			if err != nil {
				s.log.Error("failed to seed next run", zap.String("action_id", action.ID), zap.Error(err))
				continue
			}
			action.NextRunAt = &next
			_ = s.store.UpsertScheduledAction(ctx, action)
			continue
		}
		if t.Before(*action.NextRunAt) {
			continue
		}

		s.mu.Lock()
		retryCount := s.retryCounts[action.ID]
		s.mu.Unlock()
		triggeredBy := store.TriggeredByScheduler
		if retryCount > 0 {
			triggeredBy = store.TriggeredByRetry
		}
		s.fire(ctx, action, triggeredBy, retryCount)
	}
}

// TriggerNow fires action immediately regardless of its schedule,
// still subject to its allow_concurrent policy.
func (s *Scheduler) TriggerNow(ctx context.Context, actionID string) (string, error) {
	action, err := s.store.GetScheduledAction(ctx, actionID)
	if err != nil {
		return "", err
	}
	return s.fire(ctx, action, store.TriggeredByManual, 0)
}

// OnEvent fires every active event-triggered action whose EventTrigger
// matches eventName.
func (s *Scheduler) OnEvent(ctx context.Context, eventName string) error {
	actions, err := s.store.ListActionsByEventTrigger(ctx, eventName)
	if err != nil {
		return apperrors.Wrap(err, "failed to list event-triggered actions")
	}
	for _, action := range actions {
		if _, err := s.fire(ctx, action, store.TriggeredByEvent, 0); err != nil {
			s.log.Error("event-triggered action failed to fire", zap.String("action_id", action.ID), zap.Error(err))
		}
	}
	return nil
}

// fire applies the allow_concurrent policy, records a ScheduledActionRun,
// and starts the BackgroundTask. It returns the run's background task id.
func (s *Scheduler) fire(ctx context.Context, action *store.ScheduledAction, triggeredBy store.TriggeredBy, retryCount int) (string, error) {
	if !action.AllowConcurrent {
		inFlight, err := s.store.IsRunInFlight(ctx, action.ID)
		if err != nil {
			return "", apperrors.Wrap(err, "failed to check in-flight runs")
		}
		if inFlight {
			s.emit(event.KindScheduleSkipped, map[string]any{"action_id": action.ID, "reason": "previous run still in flight"})
			s.log.Info("skipped scheduled action: previous run still in flight", zap.String("action_id", action.ID))
			return "", nil
		}
	}

	run := &store.ScheduledActionRun{
		ID:          uuid.New().String(),
		ActionID:    action.ID,
		TriggeredAt: now(),
		TriggeredBy: triggeredBy,
		RetryCount:  retryCount,
	}

	// Hold s.mu until the run is registered so a task that settles
	// immediately cannot reach handleSettled before runsByTask knows it.
	s.mu.Lock()
	taskID, err := s.executor.StartTask(ctx, action.AgentID, action.Goal, nil, action.MaxSteps, action.TimeoutSeconds)
	if err != nil {
		s.mu.Unlock()
		run.Success = false
		run.ResultSummary = fmt.Sprintf("failed to start background task: %v", err)
		if createErr := s.store.CreateScheduledActionRun(ctx, run); createErr != nil {
			s.log.Error("failed to persist failed scheduled run", zap.Error(createErr))
		}
		s.settleAction(ctx, action.ID, false, retryCount)
		return "", err
	}
	run.BackgroundTaskID = taskID

	if err := s.store.CreateScheduledActionRun(ctx, run); err != nil {
		s.mu.Unlock()
		return taskID, apperrors.Wrap(err, "failed to persist scheduled action run")
	}

	s.runsByTask[taskID] = &runContext{run: run, actionID: action.ID}
	s.mu.Unlock()

	s.emit(event.KindScheduleFired, map[string]any{"action_id": action.ID, "task_id": taskID, "triggered_by": string(triggeredBy)})
	return taskID, nil
}

func now() time.Time { return time.Now().UTC() }
