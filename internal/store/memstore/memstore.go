// Package memstore is an in-memory store.Store reference implementation
// for tests and the demo binary. It is not meant to survive a process
// restart; a real deployment supplies its own Store backed by durable
// storage.
package memstore

import (
	"context"
	"sync"

	"github.com/kandev/gathering/internal/apperrors"
	"github.com/kandev/gathering/internal/store"
)

// Store is a mutex-guarded, map-backed store.Store.
type Store struct {
	mu sync.Mutex

	tasks   map[string]*store.BackgroundTask
	steps   map[string][]*store.TaskStep
	actions map[string]*store.ScheduledAction
	runs    map[string]*store.ScheduledActionRun
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		tasks:   make(map[string]*store.BackgroundTask),
		steps:   make(map[string][]*store.TaskStep),
		actions: make(map[string]*store.ScheduledAction),
		runs:    make(map[string]*store.ScheduledActionRun),
	}
}

func cloneTask(t *store.BackgroundTask) *store.BackgroundTask {
	clone := *t
	return &clone
}

func (s *Store) CreateBackgroundTask(ctx context.Context, task *store.BackgroundTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return apperrors.Conflict("background task already exists")
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *Store) GetBackgroundTask(ctx context.Context, id string) (*store.BackgroundTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("background task", id)
	}
	return cloneTask(t), nil
}

func (s *Store) UpdateBackgroundTask(ctx context.Context, task *store.BackgroundTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return apperrors.NotFound("background task", task.ID)
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *Store) CompareAndSetStatus(ctx context.Context, id string, expected, next store.BackgroundTaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return apperrors.NotFound("background task", id)
	}
	if t.Status != expected {
		return apperrors.Conflict("background task status changed concurrently")
	}
	t.Status = next
	return nil
}

func (s *Store) ListRunningTasks(ctx context.Context) ([]*store.BackgroundTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.BackgroundTask
	for _, t := range s.tasks {
		if t.Status == store.BackgroundRunning {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (s *Store) ListBackgroundTasks(ctx context.Context, filter store.BackgroundTaskFilter) ([]*store.BackgroundTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.BackgroundTask
	for _, t := range s.tasks {
		if filter.AgentID != nil && t.AgentID != *filter.AgentID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, cloneTask(t))
	}
	return out, nil
}

func (s *Store) AppendTaskStep(ctx context.Context, step *store.TaskStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *step
	s.steps[step.TaskID] = append(s.steps[step.TaskID], &clone)
	return nil
}

func (s *Store) ListSteps(ctx context.Context, taskID string) ([]*store.TaskStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[taskID]
	out := make([]*store.TaskStep, len(steps))
	for i, st := range steps {
		clone := *st
		out[i] = &clone
	}
	return out, nil
}

func (s *Store) UpsertScheduledAction(ctx context.Context, action *store.ScheduledAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *action
	s.actions[action.ID] = &clone
	return nil
}

func (s *Store) GetScheduledAction(ctx context.Context, id string) (*store.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, apperrors.NotFound("scheduled action", id)
	}
	clone := *a
	return &clone, nil
}

func (s *Store) DeleteScheduledAction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, id)
	return nil
}

func (s *Store) ListActiveActions(ctx context.Context) ([]*store.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.ScheduledAction
	for _, a := range s.actions {
		if a.Status == store.ActionActive {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *Store) ListActionsByEventTrigger(ctx context.Context, eventName string) ([]*store.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.ScheduledAction
	for _, a := range s.actions {
		if a.Type == store.ScheduleEvent && a.EventTrigger == eventName && a.Status == store.ActionActive {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *Store) CreateScheduledActionRun(ctx context.Context, run *store.ScheduledActionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *Store) UpdateScheduledActionRun(ctx context.Context, run *store.ScheduledActionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

// IsRunInFlight reports whether actionID has a run recorded with no
// result summary yet — the only signal a run hasn't settled.
func (s *Store) IsRunInFlight(ctx context.Context, actionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ActionID == actionID && r.ResultSummary == "" {
			return true, nil
		}
	}
	return false, nil
}
