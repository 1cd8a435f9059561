package circle

import (
	"strconv"
	"time"

	"github.com/kandev/gathering/internal/apperrors"
	"github.com/kandev/gathering/internal/event"
	"github.com/kandev/gathering/internal/facilitator"
)

func counted(s TaskStatus) bool {
	return s == TaskAssigned || s == TaskInProgress || s == TaskInReview
}

// applyWorkload adjusts the facilitator's per-agent workload counters
// when a task's status or holder changes, so AgentMetrics.CurrentWorkload
// always equals the count of that agent's {assigned,in_progress,in_review} tasks.
func (c *Circle) applyWorkload(prevStatus TaskStatus, prevAgent *int, newStatus TaskStatus, newAgent *int) {
	if c.fac == nil {
		return
	}
	if counted(prevStatus) && prevAgent != nil {
		if !counted(newStatus) || newAgent == nil || *newAgent != *prevAgent {
			c.fac.Metrics.IncWorkload(*prevAgent, -1)
		}
	}
	if counted(newStatus) && newAgent != nil {
		if !counted(prevStatus) || prevAgent == nil || *prevAgent != *newAgent {
			c.fac.Metrics.IncWorkload(*newAgent, 1)
		}
	}
}

// CreateTask adds a task in the pending state and, if auto-routing is
// on, immediately asks the facilitator for an agent.
func (c *Circle) CreateTask(title, description string, requiredCompetencies []string, priority int) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	if priority < 1 || priority > 5 {
		priority = 3
	}
	c.nextTaskID++
	task := &Task{
		ID:                   c.nextTaskID,
		Title:                title,
		Description:          description,
		RequiredCompetencies: requiredCompetencies,
		Priority:             priority,
		Status:               TaskPending,
		Iteration:            1,
		CreatedAt:            time.Now().UTC(),
	}
	c.tasks[task.ID] = task
	c.emit(event.KindTaskCreated, nil, map[string]any{"title": title}, c.topics("tasks", strconv.Itoa(task.ID))...)

	if c.cfg.AutoRoute {
		c.routeLocked(task)
	}
	return task
}

// routeLocked asks the facilitator to assign task; caller holds c.mu.
func (c *Circle) routeLocked(task *Task) {
	candidates := make([]facilitator.Candidate, 0, len(c.agents))
	for _, a := range c.agents {
		candidates = append(candidates, facilitator.Candidate{
			AgentID:      a.ID,
			Competencies: a.Competencies,
			Active:       a.Active,
		})
	}

	agentID := c.fac.RouteTask(candidates, task.RequiredCompetencies, nil)
	if agentID == nil {
		c.emit(event.KindTaskPendingNoAgent, nil, map[string]any{"task_id": task.ID}, c.topics("tasks", strconv.Itoa(task.ID))...)
		return
	}

	c.applyWorkload(task.Status, task.AssignedAgentID, TaskAssigned, agentID)
	task.AssignedAgentID = agentID
	task.Status = TaskAssigned
	c.emit(event.KindTaskAssigned, agentID, map[string]any{"task_id": task.ID}, c.topics("tasks", strconv.Itoa(task.ID))...)
}

// ClaimTask transitions a pending or self-assigned task to in_progress,
// subject to the agent's AcceptTask callback. It returns false (with no
// error) when the agent declines.
func (c *Circle) ClaimTask(taskID, agentID int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusStopping || c.status == StatusStopped {
		return false, apperrors.Capacity("circle is stopping; new claims are refused")
	}

	task, ok := c.tasks[taskID]
	if !ok {
		return false, apperrors.NotFound("task", strconv.Itoa(taskID))
	}
	agent, ok := c.agents[agentID]
	if !ok {
		return false, apperrors.NotFound("agent", strconv.Itoa(agentID))
	}

	eligible := task.Status == TaskPending ||
		(task.Status == TaskAssigned && task.AssignedAgentID != nil && *task.AssignedAgentID == agentID)
	if !eligible {
		return false, apperrors.InvalidState("task is not claimable by this agent in its current state")
	}

	if !agent.accept(task) {
		return false, nil
	}

	c.applyWorkload(task.Status, task.AssignedAgentID, TaskInProgress, &agentID)
	task.AssignedAgentID = &agentID
	task.Status = TaskInProgress
	now := time.Now().UTC()
	task.StartedAt = &now
	agent.CurrentTaskID = &taskID

	c.emit(event.KindTaskClaimed, &agentID, map[string]any{"task_id": taskID}, c.topics("tasks", strconv.Itoa(taskID))...)
	return true, nil
}

// SubmitTask records a submission. When review is required it routes to
// a reviewer and moves the task to in_review; otherwise it completes directly.
func (c *Circle) SubmitTask(taskID, agentID int, result TaskResult, artifacts []Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task", strconv.Itoa(taskID))
	}
	if task.Status != TaskInProgress || task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
		return apperrors.InvalidState("task is not in progress for this agent")
	}

	task.Result = &result
	task.Artifacts = artifacts

	if !c.cfg.RequireReview {
		return c.completeTaskLocked(task)
	}

	reviewerID, err := c.pickReviewerLocked(task, agentID)
	if err != nil {
		return err
	}

	c.applyWorkload(task.Status, task.AssignedAgentID, TaskInReview, task.AssignedAgentID)
	task.ReviewerID = &reviewerID
	task.Status = TaskInReview
	c.emit(event.KindReviewRequested, &reviewerID, map[string]any{"task_id": taskID}, c.topics("tasks", strconv.Itoa(taskID))...)
	return nil
}

func (c *Circle) pickReviewerLocked(task *Task, authorID int) (int, error) {
	kinds := make(map[string]struct{}, len(task.Artifacts))
	for _, a := range task.Artifacts {
		kinds[a.Kind] = struct{}{}
	}

	var fallback *int
	for id, a := range c.agents {
		if id == authorID || !a.Active {
			continue
		}
		if fallback == nil {
			f := id
			fallback = &f
		}
		for kind := range kinds {
			if a.CanReviewKind(kind) {
				return id, nil
			}
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return 0, apperrors.Capacity("no reviewer available for task")
}

func (c *Circle) completeTaskLocked(task *Task) error {
	prevAgent := task.AssignedAgentID
	c.applyWorkload(task.Status, prevAgent, TaskCompleted, prevAgent)
	task.Status = TaskCompleted
	now := time.Now().UTC()
	task.CompletedAt = &now

	if c.fac != nil && prevAgent != nil {
		durationMs := float64(0)
		if task.StartedAt != nil {
			durationMs = float64(now.Sub(*task.StartedAt).Milliseconds())
		}
		c.fac.Metrics.RecordCompletion(*prevAgent, durationMs)
	}

	c.emit(event.KindTaskCompleted, prevAgent, map[string]any{"task_id": task.ID}, c.topics("tasks", strconv.Itoa(task.ID))...)
	return nil
}

// SubmitReview applies a reviewer's decision. Approved completes the
// task; changes_requested loops back to in_progress with iteration+1
// (escalating past MaxIterations); rejected fails the task.
func (c *Circle) SubmitReview(taskID, reviewerID int, decision ReviewDecision, score *float64, feedback, changes string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task", strconv.Itoa(taskID))
	}
	if task.Status != TaskInReview || task.ReviewerID == nil || *task.ReviewerID != reviewerID {
		return apperrors.InvalidState("task is not awaiting review from this reviewer")
	}

	task.ReviewHistory = append(task.ReviewHistory, Review{
		ReviewerID: reviewerID,
		Decision:   decision,
		Score:      score,
		Feedback:   feedback,
		Changes:    changes,
		At:         time.Now().UTC(),
	})
	if c.fac != nil {
		c.fac.Metrics.RecordReview(reviewerID)
	}

	switch decision {
	case ReviewApproved:
		return c.completeTaskLocked(task)

	case ReviewChangesRequested:
		task.Iteration++
		if task.Iteration > c.cfg.MaxIterations {
			return c.escalateTaskLocked(task, "changes requested beyond max iterations")
		}
		c.applyWorkload(task.Status, task.AssignedAgentID, TaskInProgress, task.AssignedAgentID)
		task.Status = TaskInProgress
		c.emit(event.KindReviewCompleted, &reviewerID, map[string]any{"task_id": taskID, "decision": string(decision)}, c.topics("tasks", strconv.Itoa(taskID))...)
		return nil

	case ReviewRejected:
		return c.escalateTaskLocked(task, "review rejected")

	default:
		return apperrors.BadInput("unknown review decision")
	}
}

func (c *Circle) escalateTaskLocked(task *Task, reason string) error {
	prevAgent := task.AssignedAgentID
	c.applyWorkload(task.Status, prevAgent, TaskFailed, prevAgent)
	task.Status = TaskFailed
	now := time.Now().UTC()
	task.CompletedAt = &now

	if c.fac != nil && prevAgent != nil {
		c.fac.Metrics.RecordFailure(*prevAgent)
	}

	c.emit(event.KindEscalation, prevAgent, map[string]any{"task_id": task.ID, "reason": reason}, c.topics("tasks", strconv.Itoa(task.ID))...)
	return nil
}

// CancelTask aborts any non-terminal task.
func (c *Circle) CancelTask(taskID int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return apperrors.NotFound("task", strconv.Itoa(taskID))
	}
	if task.Status.IsTerminal() {
		return apperrors.InvalidState("task is already terminal")
	}
	c.failTaskLocked(taskID, task, reason)
	return nil
}

func (c *Circle) failTaskLocked(taskID int, task *Task, reason string) {
	prevAgent := task.AssignedAgentID
	c.applyWorkload(task.Status, prevAgent, TaskFailed, prevAgent)
	task.Status = TaskFailed
	now := time.Now().UTC()
	task.CompletedAt = &now
	c.emit(event.KindTaskFailed, prevAgent, map[string]any{"task_id": taskID, "reason": reason}, c.topics("tasks", strconv.Itoa(taskID))...)
}

// Task returns a copy of the task's current state.
func (c *Circle) Task(taskID int) (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}
