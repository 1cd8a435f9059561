// Package store defines the persistence boundary the engine depends on:
// CRUD and atomic status transitions for BackgroundTask, TaskStep,
// ScheduledAction, and ScheduledActionRun. The engine never imports a
// concrete database driver; internal/store/memstore is the only
// implementation shipped here, for tests and the demo binary.
package store

import "time"

// BackgroundTaskStatus is a BackgroundTask's lifecycle position.
type BackgroundTaskStatus string

const (
	BackgroundPending   BackgroundTaskStatus = "pending"
	BackgroundRunning   BackgroundTaskStatus = "running"
	BackgroundPaused    BackgroundTaskStatus = "paused"
	BackgroundCompleted BackgroundTaskStatus = "completed"
	BackgroundFailed    BackgroundTaskStatus = "failed"
	BackgroundTimeout   BackgroundTaskStatus = "timeout"
	BackgroundCancelled BackgroundTaskStatus = "cancelled"
)

// IsTerminal reports whether status is absorbing.
func (s BackgroundTaskStatus) IsTerminal() bool {
	switch s {
	case BackgroundCompleted, BackgroundFailed, BackgroundTimeout, BackgroundCancelled:
		return true
	default:
		return false
	}
}

// BackgroundTask is a step-bounded autonomous goal loop.
type BackgroundTask struct {
	ID                 string
	AgentID            int
	Goal               string
	GoalContext        map[string]any
	CurrentStep        int
	MaxSteps           int
	CheckpointInterval int
	TimeoutSeconds     int
	Status             BackgroundTaskStatus
	StartedAt          *time.Time
	CompletedAt        *time.Time
	LastCheckpointAt   *time.Time
	CheckpointContext  map[string]any
	LastOutput         string
	Error              string
	RecoveryNote       string
}

// StepActionKind classifies what a TaskStep did.
type StepActionKind string

const (
	StepToolCall       StepActionKind = "tool_call"
	StepMessageEmit    StepActionKind = "message_emit"
	StepTerminalResult StepActionKind = "terminal_result"
)

// TaskStep records one iteration of a BackgroundTask's loop.
type TaskStep struct {
	TaskID      string
	StepNumber  int
	ActionKind  StepActionKind
	ToolUsed    string
	Success     bool
	TokensIn    int
	TokensOut   int
	DurationMs  int64
	Output      string
	PriorOutput string
	At          time.Time
}

// ScheduleType is the trigger mechanism of a ScheduledAction.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
	ScheduleEvent    ScheduleType = "event"
)

// ScheduledActionStatus tracks a ScheduledAction's own lifecycle.
type ScheduledActionStatus string

const (
	ActionActive    ScheduledActionStatus = "active"
	ActionPaused    ScheduledActionStatus = "paused"
	ActionCompleted ScheduledActionStatus = "completed"
	ActionFailed    ScheduledActionStatus = "failed"
)

// ScheduledAction is a cron/interval/once/event trigger that launches a
// background task. Exactly one of CronExpression, IntervalSeconds, or
// EventTrigger is set, consistent with Type.
type ScheduledAction struct {
	ID       string
	AgentID  int
	CircleID string
	Name     string
	Goal     string
	Type     ScheduleType

	CronExpression  string
	IntervalSeconds int
	NextRunAt       *time.Time
	EventTrigger    string

	MaxSteps          int
	TimeoutSeconds    int
	RetryOnFailure    bool
	MaxRetries        int
	RetryDelaySeconds int
	AllowConcurrent   bool

	StartDate      *time.Time
	EndDate        *time.Time
	MaxExecutions  *int
	ExecutionCount int
	LastRunAt      *time.Time
	LastRunStatus  string
	Status         ScheduledActionStatus
}

// TriggeredBy identifies what caused a ScheduledActionRun to fire.
type TriggeredBy string

const (
	TriggeredByScheduler TriggeredBy = "scheduler"
	TriggeredByManual    TriggeredBy = "manual"
	TriggeredByEvent     TriggeredBy = "event"
	TriggeredByRetry     TriggeredBy = "retry"
)

// ScheduledActionRun logs one firing of a ScheduledAction.
type ScheduledActionRun struct {
	ID                string
	ActionID          string
	TriggeredAt       time.Time
	TriggeredBy       TriggeredBy
	BackgroundTaskID  string
	ResultSummary     string
	Success           bool
	RetryCount        int
}
