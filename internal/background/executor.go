package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/gathering/internal/apperrors"
	"github.com/kandev/gathering/internal/common/config"
	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/event"
	"github.com/kandev/gathering/internal/store"
)

// Executor runs BackgroundTask goal loops over a bounded worker pool.
// All live Runners are tracked so Pause/Resume/Cancel/Shutdown can
// observe and act on them; the Store remains the source of truth for
// status so a process restart can always recover via RecoverTasks.
type Executor struct {
	store  store.Store
	bus    *event.Bus
	agents AgentExecutors
	log    *logger.Logger

	maxConcurrent      int
	checkpointInterval int
	defaultTimeout     time.Duration
	stepBackoff        time.Duration
	shutdownGrace      time.Duration

	sem   chan struct{}
	group *errgroup.Group

	mu       sync.Mutex
	runners  map[string]context.CancelFunc
	draining bool
}

// NewExecutor builds an Executor from configuration, a Store, an event
// Bus to announce lifecycle transitions on, and the registry of agent
// executors it may dispatch steps to.
func NewExecutor(cfg config.ExecutorConfig, st store.Store, bus *event.Bus, agents AgentExecutors, log *logger.Logger) *Executor {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	checkpointInterval := cfg.CheckpointInterval
	if checkpointInterval <= 0 {
		checkpointInterval = 5
	}
	return &Executor{
		store:              st,
		bus:                bus,
		agents:             agents,
		log:                log.WithFields(zap.String("component", "background_executor")),
		maxConcurrent:      maxConcurrent,
		checkpointInterval: checkpointInterval,
		defaultTimeout:     cfg.DefaultTimeout,
		stepBackoff:        cfg.StepBackoff,
		shutdownGrace:      cfg.ShutdownGracePeriod,
		sem:                make(chan struct{}, maxConcurrent),
		group:              &errgroup.Group{},
		runners:            make(map[string]context.CancelFunc),
	}
}

func (e *Executor) emit(kind event.Kind, agentID *int, payload map[string]any, topics ...string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event.New(kind, agentID, payload, topics...))
}

// StartTask persists a new BackgroundTask as pending, transitions it to
// running, and spawns its runner on the worker pool. It returns
// apperrors.Capacity if the pool is saturated or the executor is draining.
func (e *Executor) StartTask(ctx context.Context, agentID int, goal string, goalContext map[string]any, maxSteps, timeoutSeconds int) (string, error) {
	e.mu.Lock()
	draining := e.draining
	e.mu.Unlock()
	if draining {
		return "", apperrors.Capacity("executor is draining")
	}

	if timeoutSeconds <= 0 {
		timeoutSeconds = int(e.defaultTimeout.Seconds())
	}
	task := &store.BackgroundTask{
		ID:                 uuid.New().String(),
		AgentID:            agentID,
		Goal:               goal,
		GoalContext:        goalContext,
		MaxSteps:           maxSteps,
		CheckpointInterval: e.checkpointInterval,
		TimeoutSeconds:     timeoutSeconds,
		Status:             store.BackgroundPending,
	}
	if err := e.store.CreateBackgroundTask(ctx, task); err != nil {
		return "", apperrors.Wrap(err, "failed to persist background task")
	}

	select {
	case e.sem <- struct{}{}:
	default:
		return "", apperrors.Capacity("background worker pool is full")
	}

	startedAt := now()
	task.StartedAt = &startedAt
	task.Status = store.BackgroundRunning
	if err := e.store.UpdateBackgroundTask(ctx, task); err != nil {
		<-e.sem
		return "", apperrors.Wrap(err, "failed to start background task")
	}

	e.spawnRunner(task.ID)
	e.emit(event.KindBackgroundStarted, &agentID, map[string]any{"task_id": task.ID}, event.TopicsFor("background", task.ID)...)
	return task.ID, nil
}

func (e *Executor) spawnRunner(taskID string) {
	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.runners[taskID] = cancel
	e.mu.Unlock()

	e.group.Go(func() error {
		defer func() {
			<-e.sem
			e.mu.Lock()
			delete(e.runners, taskID)
			e.mu.Unlock()
		}()
		e.runLoop(runCtx, taskID)
		return nil
	})
}

// PauseTask sets a task's durable status to paused; its runner observes
// this at the next loop boundary and yields.
func (e *Executor) PauseTask(ctx context.Context, taskID string) error {
	if err := e.store.CompareAndSetStatus(ctx, taskID, store.BackgroundRunning, store.BackgroundPaused); err != nil {
		return err
	}
	e.emit(event.KindBackgroundPaused, nil, map[string]any{"task_id": taskID}, event.TopicsFor("background", taskID)...)
	return nil
}

// ResumeTask re-sets a task to running and spawns a runner for it if
// none is live, continuing from the last checkpoint.
func (e *Executor) ResumeTask(ctx context.Context, taskID string) error {
	if err := e.store.CompareAndSetStatus(ctx, taskID, store.BackgroundPaused, store.BackgroundRunning); err != nil {
		return err
	}

	e.mu.Lock()
	_, live := e.runners[taskID]
	e.mu.Unlock()
	if !live {
		select {
		case e.sem <- struct{}{}:
			e.spawnRunner(taskID)
		default:
			// Pool saturated: leave the task running-but-unattended; it
			// will be picked up by RecoverTasks on the next restart. A
			// later ResumeTask does not help, since its paused->running
			// transition fails while the status is already running.
			e.log.Warn("resumed task has no free worker slot", zap.String("task_id", taskID))
		}
	}
	e.emit(event.KindBackgroundResumed, nil, map[string]any{"task_id": taskID}, event.TopicsFor("background", taskID)...)
	return nil
}

// CancelTask sets a task's durable status to cancelled; its runner
// observes this at the next boundary and terminates cleanly.
func (e *Executor) CancelTask(ctx context.Context, taskID string, reason string) error {
	task, err := e.store.GetBackgroundTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return apperrors.InvalidState("background task is already terminal")
	}
	if err := e.store.CompareAndSetStatus(ctx, taskID, task.Status, store.BackgroundCancelled); err != nil {
		return err
	}
	e.emit(event.KindBackgroundCancelled, nil, map[string]any{"task_id": taskID, "reason": reason}, event.TopicsFor("background", taskID)...)
	return nil
}

// RecoverTasks scans the Store for tasks marked running with no live
// runner (e.g. after a process restart) and marks them paused with a
// recovery note. It returns the count recovered.
func (e *Executor) RecoverTasks(ctx context.Context) (int, error) {
	running, err := e.store.ListRunningTasks(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to list running tasks")
	}

	count := 0
	for _, task := range running {
		e.mu.Lock()
		_, live := e.runners[task.ID]
		e.mu.Unlock()
		if live {
			continue
		}

		task.Status = store.BackgroundPaused
		task.RecoveryNote = fmt.Sprintf("recovered at %s: no live runner found", now().Format(time.RFC3339))
		if err := e.store.UpdateBackgroundTask(ctx, task); err != nil {
			e.log.Error("failed to persist recovered task", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		count++
		e.emit(event.KindBackgroundRecovered, &task.AgentID, map[string]any{"task_id": task.ID}, event.TopicsFor("background", task.ID)...)
	}
	return count, nil
}

// Shutdown refuses new starts, asks every live runner to pause at its
// next boundary, waits up to timeout for them to exit, and persists any
// straggler as paused with a recovery note, the same state RecoverTasks
// leaves an orphaned-by-restart task in, so ResumeTask can continue it.
func (e *Executor) Shutdown(ctx context.Context, timeout time.Duration) error {
	e.mu.Lock()
	e.draining = true
	ids := make([]string, 0, len(e.runners))
	for id := range e.runners {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	if timeout <= 0 {
		timeout = e.shutdownGrace
	}

	for _, id := range ids {
		if err := e.store.CompareAndSetStatus(ctx, id, store.BackgroundRunning, store.BackgroundPaused); err != nil {
			e.log.Debug("shutdown pause race lost, task likely already settled", zap.String("task_id", id), zap.Error(err))
		}
	}

	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		e.mu.Lock()
		stragglers := make([]string, 0, len(e.runners))
		for id, cancel := range e.runners {
			cancel()
			stragglers = append(stragglers, id)
		}
		e.mu.Unlock()

		for _, id := range stragglers {
			e.pauseForRecovery(ctx, id, "shutdown grace period elapsed before runner exited")
		}
		return apperrors.Timeout("executor shutdown timed out; remaining runners paused for recovery")
	}
}

// pauseForRecovery persists task as paused with a recovery note, the
// same non-terminal state RecoverTasks assigns an orphaned task, so a
// shutdown straggler is resumable rather than discarded.
func (e *Executor) pauseForRecovery(ctx context.Context, taskID, note string) {
	task, err := e.store.GetBackgroundTask(ctx, taskID)
	if err != nil {
		e.log.Error("failed to load straggler task for shutdown recovery", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	task.Status = store.BackgroundPaused
	task.RecoveryNote = fmt.Sprintf("%s: %s", now().Format(time.RFC3339), note)
	if err := e.store.UpdateBackgroundTask(ctx, task); err != nil {
		e.log.Error("failed to persist shutdown straggler as paused", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	e.emit(event.KindBackgroundPaused, &task.AgentID, map[string]any{"task_id": taskID, "reason": "shutdown"}, event.TopicsFor("background", taskID)...)
}
