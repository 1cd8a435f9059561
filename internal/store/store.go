package store

import "context"

// BackgroundTaskFilter narrows ListBackgroundTasks; zero values mean "no filter".
type BackgroundTaskFilter struct {
	AgentID *int
	Status  *BackgroundTaskStatus
}

// Store is the persistence boundary the engine depends on. It is the
// source of truth: in-memory caches held by the Executor or Scheduler
// must never diverge from it silently.
type Store interface {
	CreateBackgroundTask(ctx context.Context, task *BackgroundTask) error
	GetBackgroundTask(ctx context.Context, id string) (*BackgroundTask, error)
	UpdateBackgroundTask(ctx context.Context, task *BackgroundTask) error
	// CompareAndSetStatus atomically transitions a task's status iff its
	// current status equals expected, returning apperrors.Conflict if not.
	CompareAndSetStatus(ctx context.Context, id string, expected, next BackgroundTaskStatus) error
	ListRunningTasks(ctx context.Context) ([]*BackgroundTask, error)
	ListBackgroundTasks(ctx context.Context, filter BackgroundTaskFilter) ([]*BackgroundTask, error)

	AppendTaskStep(ctx context.Context, step *TaskStep) error
	ListSteps(ctx context.Context, taskID string) ([]*TaskStep, error)

	UpsertScheduledAction(ctx context.Context, action *ScheduledAction) error
	GetScheduledAction(ctx context.Context, id string) (*ScheduledAction, error)
	DeleteScheduledAction(ctx context.Context, id string) error
	ListActiveActions(ctx context.Context) ([]*ScheduledAction, error)
	ListActionsByEventTrigger(ctx context.Context, eventName string) ([]*ScheduledAction, error)

	CreateScheduledActionRun(ctx context.Context, run *ScheduledActionRun) error
	UpdateScheduledActionRun(ctx context.Context, run *ScheduledActionRun) error
	IsRunInFlight(ctx context.Context, actionID string) (bool, error)
}
