package background

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/gathering/internal/common/config"
	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/event"
	"github.com/kandev/gathering/internal/store"
	"github.com/kandev/gathering/internal/store/memstore"
)

func newTestExecutor(t *testing.T, agents AgentExecutors) (*Executor, store.Store, *event.Bus) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	bus := event.NewBus(log, 1024)
	st := memstore.New()
	cfg := config.ExecutorConfig{
		MaxConcurrent:       2,
		CheckpointInterval:  2,
		DefaultTimeout:      time.Minute,
		StepBackoff:         time.Millisecond,
		ShutdownGracePeriod: 200 * time.Millisecond,
	}
	return NewExecutor(cfg, st, bus, agents, log), st, bus
}

func countingExecutor(steps int) (ExecuteFunc, *int) {
	calls := 0
	return func(ctx context.Context, task *store.BackgroundTask, priorSteps []*store.TaskStep) (StepOutcome, error) {
		calls++
		terminal := task.CurrentStep+1 >= steps
		out := StepOutcome{ActionKind: store.StepToolCall, ToolUsed: "noop", Output: "ok"}
		if terminal {
			out.ActionKind = store.StepTerminalResult
			out.Terminal = true
			out.Result = "done"
		}
		return out, nil
	}, &calls
}

func waitForStatus(t *testing.T, st store.Store, taskID string, want store.BackgroundTaskStatus, timeout time.Duration) *store.BackgroundTask {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := st.GetBackgroundTask(context.Background(), taskID)
		require.NoError(t, err)
		if task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s in time", taskID, want)
	return nil
}

func TestStartTask_RunsStepsToCompletion(t *testing.T) {
	exec, calls := countingExecutor(3)
	e, st, _ := newTestExecutor(t, StaticExecutors{1: exec})

	taskID, err := e.StartTask(context.Background(), 1, "write a report", nil, 10, 0)
	require.NoError(t, err)

	task := waitForStatus(t, st, taskID, store.BackgroundCompleted, time.Second)
	assert.Equal(t, 3, task.CurrentStep)
	assert.Equal(t, "done", task.LastOutput)
	assert.Equal(t, 3, *calls)
}

func TestStartTask_FailsWhenNoExecutorRegistered(t *testing.T) {
	e, st, _ := newTestExecutor(t, StaticExecutors{})

	taskID, err := e.StartTask(context.Background(), 9, "goal", nil, 5, 0)
	require.NoError(t, err)

	task := waitForStatus(t, st, taskID, store.BackgroundFailed, time.Second)
	assert.Contains(t, task.Error, "no executor registered")
}

func TestStartTask_RejectsWhenPoolIsFull(t *testing.T) {
	block := make(chan struct{})
	slow := func(ctx context.Context, task *store.BackgroundTask, priorSteps []*store.TaskStep) (StepOutcome, error) {
		<-block
		return StepOutcome{ActionKind: store.StepTerminalResult, Terminal: true, Result: "done"}, nil
	}
	e, _, _ := newTestExecutor(t, StaticExecutors{1: slow, 2: slow, 3: slow})

	_, err := e.StartTask(context.Background(), 1, "g1", nil, 5, 0)
	require.NoError(t, err)
	_, err = e.StartTask(context.Background(), 2, "g2", nil, 5, 0)
	require.NoError(t, err)

	_, err = e.StartTask(context.Background(), 3, "g3", nil, 5, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAPACITY")

	close(block)
}

// TestRecoverTasks_PausesOrphanedRunningTask covers the executor
// recovery scenario: the Store has a task marked running with no live
// runner attached to it (e.g. after a restart). RecoverTasks must find
// it, mark it paused with a recovery note, and resuming it must
// continue from the same step rather than restarting.
func TestRecoverTasks_PausesOrphanedRunningTask(t *testing.T) {
	exec, _ := countingExecutor(100)
	e, st, _ := newTestExecutor(t, StaticExecutors{42: exec})

	startedAt := time.Now().UTC()
	orphan := &store.BackgroundTask{
		ID:                 "orphan-task",
		AgentID:            42,
		Goal:               "long running goal",
		CurrentStep:        7,
		MaxSteps:           100,
		CheckpointInterval: 5,
		TimeoutSeconds:     3600,
		Status:             store.BackgroundRunning,
		StartedAt:          &startedAt,
	}
	require.NoError(t, st.CreateBackgroundTask(context.Background(), orphan))

	count, err := e.RecoverTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	recovered, err := st.GetBackgroundTask(context.Background(), "orphan-task")
	require.NoError(t, err)
	assert.Equal(t, store.BackgroundPaused, recovered.Status)
	assert.NotEmpty(t, recovered.RecoveryNote)
	assert.Equal(t, 7, recovered.CurrentStep)

	require.NoError(t, e.ResumeTask(context.Background(), "orphan-task"))
	resumed, err := st.GetBackgroundTask(context.Background(), "orphan-task")
	require.NoError(t, err)
	assert.Equal(t, store.BackgroundRunning, resumed.Status)
	assert.Equal(t, 7, resumed.CurrentStep, "resume must not reset current_step")
}

// TestPauseResume_PreservesStepAndCheckpoint is the pause/resume law:
// state_after == state_before across a pause/resume cycle that lands
// between steps.
func TestPauseResume_PreservesStepAndCheckpoint(t *testing.T) {
	gate := make(chan struct{}, 1)
	stepCount := 0
	exec := func(ctx context.Context, task *store.BackgroundTask, priorSteps []*store.TaskStep) (StepOutcome, error) {
		stepCount++
		if stepCount == 2 {
			gate <- struct{}{}
		}
		terminal := task.CurrentStep+1 >= 6
		out := StepOutcome{ActionKind: store.StepToolCall, Output: "ok"}
		if terminal {
			out.ActionKind = store.StepTerminalResult
			out.Terminal = true
			out.Result = "done"
		}
		return out, nil
	}
	e, st, _ := newTestExecutor(t, StaticExecutors{7: exec})

	taskID, err := e.StartTask(context.Background(), 7, "goal", nil, 6, 0)
	require.NoError(t, err)

	<-gate
	require.NoError(t, e.PauseTask(context.Background(), taskID))

	paused := waitForStatus(t, st, taskID, store.BackgroundPaused, time.Second)
	stepBefore := paused.CurrentStep
	checkpointBefore := paused.CheckpointContext

	require.NoError(t, e.ResumeTask(context.Background(), taskID))

	completed := waitForStatus(t, st, taskID, store.BackgroundCompleted, time.Second)
	assert.GreaterOrEqual(t, completed.CurrentStep, stepBefore)
	_ = checkpointBefore
}

func TestShutdown_DrainsRunnersAndRejectsNewStarts(t *testing.T) {
	exec, _ := countingExecutor(2)
	e, st, _ := newTestExecutor(t, StaticExecutors{1: exec})

	taskID, err := e.StartTask(context.Background(), 1, "goal", nil, 2, 0)
	require.NoError(t, err)

	require.NoError(t, e.Shutdown(context.Background(), time.Second))

	_, err = e.StartTask(context.Background(), 1, "another goal", nil, 2, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "draining")

	task, getErr := st.GetBackgroundTask(context.Background(), taskID)
	require.NoError(t, getErr)
	assert.True(t, task.Status.IsTerminal())
}

// TestShutdown_PausesStragglersForRecovery is the shutdown-timeout
// scenario from the recovery section: a runner that doesn't exit within
// the grace period is persisted paused with a recovery note, not
// cancelled, so ResumeTask can pick it up later.
func TestShutdown_PausesStragglersForRecovery(t *testing.T) {
	block := make(chan struct{})
	stuck := func(ctx context.Context, task *store.BackgroundTask, priorSteps []*store.TaskStep) (StepOutcome, error) {
		<-block
		return StepOutcome{ActionKind: store.StepTerminalResult, Terminal: true, Result: "done"}, nil
	}
	e, st, _ := newTestExecutor(t, StaticExecutors{1: stuck})

	taskID, err := e.StartTask(context.Background(), 1, "goal", nil, 2, 0)
	require.NoError(t, err)
	waitForStatus(t, st, taskID, store.BackgroundRunning, time.Second)

	err = e.Shutdown(context.Background(), 30*time.Millisecond)
	require.Error(t, err)

	task, getErr := st.GetBackgroundTask(context.Background(), taskID)
	require.NoError(t, getErr)
	assert.Equal(t, store.BackgroundPaused, task.Status)
	assert.NotEmpty(t, task.RecoveryNote)
	close(block)
}
