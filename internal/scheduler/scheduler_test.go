package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/gathering/internal/background"
	"github.com/kandev/gathering/internal/common/config"
	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/event"
	"github.com/kandev/gathering/internal/store"
	"github.com/kandev/gathering/internal/store/memstore"
)

func newTestScheduler(t *testing.T, agents background.AgentExecutors) (*Scheduler, store.Store, *event.Bus) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	bus := event.NewBus(log, 1024)
	st := memstore.New()
	execCfg := config.ExecutorConfig{
		MaxConcurrent:       4,
		CheckpointInterval:  5,
		DefaultTimeout:      time.Minute,
		StepBackoff:         time.Millisecond,
		ShutdownGracePeriod: time.Second,
	}
	exec := background.NewExecutor(execCfg, st, bus, agents, log)
	schedCfg := config.SchedulerConfig{TickInterval: 10 * time.Millisecond, DefaultRetryLimit: 3, DefaultRetryDelay: time.Second}
	sched := New(schedCfg, st, exec, bus, log)
	return sched, st, bus
}

func blockingAgent(release <-chan struct{}) background.ExecuteFunc {
	return func(ctx context.Context, task *store.BackgroundTask, priorSteps []*store.TaskStep) (background.StepOutcome, error) {
		<-release
		return background.StepOutcome{ActionKind: store.StepTerminalResult, Terminal: true, Result: "done"}, nil
	}
}

func instantAgent() background.ExecuteFunc {
	return func(ctx context.Context, task *store.BackgroundTask, priorSteps []*store.TaskStep) (background.StepOutcome, error) {
		return background.StepOutcome{ActionKind: store.StepTerminalResult, Terminal: true, Result: "done"}, nil
	}
}

// TestTick_SkipsWhenPreviousRunStillInFlight is the scheduler
// concurrency policy scenario: allow_concurrent=false with an in-flight
// previous run causes the tick to skip, execution_count stays put, and
// a SCHEDULE_SKIPPED event is recorded.
func TestTick_SkipsWhenPreviousRunStillInFlight(t *testing.T) {
	release := make(chan struct{})
	sched, st, bus := newTestScheduler(t, background.StaticExecutors{1: blockingAgent(release)})

	var skipped []event.Event
	bus.Subscribe(kindPtr(event.KindScheduleSkipped), "", func(evt *event.Event) error {
		skipped = append(skipped, *evt)
		return nil
	})

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	action := &store.ScheduledAction{
		ID:              "action-1",
		AgentID:         1,
		Name:            "nightly digest",
		Goal:            "summarize",
		Type:            store.ScheduleInterval,
		IntervalSeconds: 3600,
		NextRunAt:       &past,
		AllowConcurrent: false,
		Status:          store.ActionActive,
	}
	require.NoError(t, st.UpsertScheduledAction(ctx, action))

	sched.tick(ctx)

	reloaded, err := st.GetScheduledAction(ctx, "action-1")
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.ExecutionCount, "first tick should have started a run, not skipped")

	sched.tick(ctx)
	reloaded, err = st.GetScheduledAction(ctx, "action-1")
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.ExecutionCount, "second tick must be skipped while the first run is in flight")
	require.Len(t, skipped, 1)
	assert.Equal(t, "action-1", skipped[0].Payload["action_id"])

	close(release)
}

func TestFire_CompletesAndAdvancesNextRun(t *testing.T) {
	sched, st, _ := newTestScheduler(t, background.StaticExecutors{1: instantAgent()})
	ctx := context.Background()
	sched.Start(ctx)
	defer sched.Stop()

	action := &store.ScheduledAction{
		ID:              "action-2",
		AgentID:         1,
		Goal:            "daily report",
		Type:            store.ScheduleInterval,
		IntervalSeconds: 60,
		AllowConcurrent: true,
		Status:          store.ActionActive,
	}
	require.NoError(t, st.UpsertScheduledAction(ctx, action))

	taskID, err := sched.TriggerNow(ctx, "action-2")
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	require.Eventually(t, func() bool {
		reloaded, err := st.GetScheduledAction(ctx, "action-2")
		require.NoError(t, err)
		return reloaded.ExecutionCount == 1
	}, time.Second, 5*time.Millisecond)

	reloaded, err := st.GetScheduledAction(ctx, "action-2")
	require.NoError(t, err)
	assert.Equal(t, "completed", reloaded.LastRunStatus)
	require.NotNil(t, reloaded.NextRunAt)
	assert.True(t, reloaded.NextRunAt.After(*reloaded.LastRunAt))
}

func TestSettleAction_DoesNotRetryPausedAction(t *testing.T) {
	sched, st, _ := newTestScheduler(t, background.StaticExecutors{})
	ctx := context.Background()

	action := &store.ScheduledAction{
		ID:                "action-3",
		AgentID:           1,
		Goal:              "flaky job",
		Type:              store.ScheduleOnce,
		RetryOnFailure:    true,
		MaxRetries:        5,
		RetryDelaySeconds: 1,
		Status:            store.ActionPaused,
	}
	require.NoError(t, st.UpsertScheduledAction(ctx, action))

	sched.settleAction(ctx, "action-3", false, 0)

	reloaded, err := st.GetScheduledAction(ctx, "action-3")
	require.NoError(t, err)
	assert.Equal(t, "failed", reloaded.LastRunStatus)
	assert.Nil(t, reloaded.NextRunAt, "a paused action must not have a retry scheduled")
}

func kindPtr(k event.Kind) *event.Kind { return &k }
