package background

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/event"
	"github.com/kandev/gathering/internal/store"
)

// runLoop drives one BackgroundTask to a terminal state, one step at a
// time. It re-reads the task from the Store at every boundary so a
// concurrent Pause/Cancel is always observed before the next step runs.
func (e *Executor) runLoop(ctx context.Context, taskID string) {
	log := e.log.WithFields(zap.String("task_id", taskID))

	for {
		task, err := e.store.GetBackgroundTask(ctx, taskID)
		if err != nil {
			log.Error("runner could not reload task", zap.Error(err))
			return
		}
		if task.Status != store.BackgroundRunning {
			// Paused, cancelled, or already terminal: yield without
			// re-transitioning. Whoever changed the status owns the event.
			return
		}

		if task.MaxSteps > 0 && task.CurrentStep >= task.MaxSteps {
			e.finishTask(ctx, task, store.BackgroundFailed, "max steps reached", log)
			return
		}
		if task.StartedAt != nil && task.TimeoutSeconds > 0 {
			if time.Since(*task.StartedAt) >= time.Duration(task.TimeoutSeconds)*time.Second {
				e.finishTask(ctx, task, store.BackgroundTimeout, "task exceeded its timeout", log)
				return
			}
		}

		exec, ok := e.agents.ExecuteFuncFor(task.AgentID)
		if !ok {
			e.finishTask(ctx, task, store.BackgroundFailed, "no executor registered for agent", log)
			return
		}

		priorSteps, err := e.store.ListSteps(ctx, taskID)
		if err != nil {
			log.Error("runner could not load prior steps", zap.Error(err))
			priorSteps = nil
		}

		outcome, stepErr := e.runStepWithRetry(ctx, exec, task, priorSteps, log)
		if stepErr != nil {
			e.finishTask(ctx, task, store.BackgroundFailed, stepErr.Error(), log)
			e.emit(event.KindEscalation, &task.AgentID, map[string]any{
				"task_id": task.ID,
				"reason":  "background task step failed twice consecutively: " + stepErr.Error(),
			}, event.TopicsFor("background", task.ID)...)
			return
		}

		step := &store.TaskStep{
			TaskID:      task.ID,
			StepNumber:  task.CurrentStep,
			ActionKind:  outcome.ActionKind,
			ToolUsed:    outcome.ToolUsed,
			Success:     true,
			TokensIn:    outcome.TokensIn,
			TokensOut:   outcome.TokensOut,
			Output:      outcome.Output,
			PriorOutput: task.LastOutput,
			At:          now(),
		}
		if err := e.store.AppendTaskStep(ctx, step); err != nil {
			log.Error("failed to persist task step", zap.Error(err))
		}

		task.CurrentStep++
		task.LastOutput = outcome.Output

		if outcome.Terminal {
			completedAt := now()
			task.CompletedAt = &completedAt
			task.Status = store.BackgroundCompleted
			task.LastOutput = outcome.Result
			if err := e.store.UpdateBackgroundTask(ctx, task); err != nil {
				log.Error("failed to persist task completion", zap.Error(err))
			}
			e.emit(event.KindBackgroundCompleted, &task.AgentID, map[string]any{
				"task_id": task.ID,
				"result":  outcome.Result,
			}, event.TopicsFor("background", task.ID)...)
			return
		}

		if e.checkpointInterval > 0 && task.CurrentStep%e.checkpointInterval == 0 {
			checkpointedAt := now()
			task.LastCheckpointAt = &checkpointedAt
			task.CheckpointContext = map[string]any{"current_step": task.CurrentStep, "last_output": task.LastOutput}
			if err := e.store.UpdateBackgroundTask(ctx, task); err != nil {
				log.Error("failed to persist checkpoint", zap.Error(err))
			}
			e.emit(event.KindBackgroundCheckpointed, &task.AgentID, map[string]any{
				"task_id": task.ID, "step": task.CurrentStep,
			}, event.TopicsFor("background", task.ID)...)
		} else if err := e.store.UpdateBackgroundTask(ctx, task); err != nil {
			log.Error("failed to persist step progress", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.stepBackoff):
		}
	}
}

// runStepWithRetry calls exec once; on error it retries a single time
// in-place after an exponential backoff. A second consecutive failure
// is returned to the caller, which marks the task failed.
func (e *Executor) runStepWithRetry(ctx context.Context, exec ExecuteFunc, task *store.BackgroundTask, priorSteps []*store.TaskStep, log *logger.Logger) (StepOutcome, error) {
	outcome, err := exec(ctx, task, priorSteps)
	if err == nil {
		return outcome, nil
	}
	log.Warn("background step failed, retrying once", zap.Error(err))

	select {
	case <-ctx.Done():
		return StepOutcome{}, ctx.Err()
	case <-time.After(e.stepBackoff * 2):
	}

	return exec(ctx, task, priorSteps)
}

func (e *Executor) finishTask(ctx context.Context, task *store.BackgroundTask, status store.BackgroundTaskStatus, reason string, log *logger.Logger) {
	completedAt := now()
	task.CompletedAt = &completedAt
	task.Status = status
	task.Error = reason
	if err := e.store.UpdateBackgroundTask(ctx, task); err != nil {
		log.Error("failed to persist task termination", zap.Error(err))
	}

	kind := event.KindBackgroundFailed
	if status == store.BackgroundTimeout {
		kind = event.KindBackgroundTimeout
	}
	e.emit(kind, &task.AgentID, map[string]any{
		"task_id": task.ID,
		"reason":  reason,
	}, event.TopicsFor("background", task.ID)...)
}
