// Package facilitator routes tasks to the best-available agent and
// arbitrates file/task/review conflicts. It knows nothing about the
// richer Agent/Task types a Circle owns — it works off the narrow
// Candidate view and keeps its own AgentMetrics table, so a Circle
// adapts its domain objects into this package's vocabulary rather than
// the other way around.
package facilitator

import "sync"

// AgentMetrics tracks per-agent counters used to score routing
// candidates. CurrentWorkload must track the count of the agent's tasks
// in {assigned, in_progress, in_review}; callers update it as tasks
// transition, the facilitator never infers it.
type AgentMetrics struct {
	TasksCompleted      int
	TasksFailed         int
	ReviewsDone         int
	CurrentWorkload     int
	AverageCompletionMs float64
}

// AvailabilityScore is 1 - min(1, CurrentWorkload/maxWorkload).
func (m AgentMetrics) AvailabilityScore(maxWorkload int) float64 {
	if maxWorkload <= 0 {
		maxWorkload = 1
	}
	ratio := float64(m.CurrentWorkload) / float64(maxWorkload)
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

// SuccessRate is completed / max(1, completed+failed).
func (m AgentMetrics) SuccessRate() float64 {
	denom := m.TasksCompleted + m.TasksFailed
	if denom < 1 {
		denom = 1
	}
	return float64(m.TasksCompleted) / float64(denom)
}

// MetricsTable is a mutex-guarded store of AgentMetrics keyed by agent id.
type MetricsTable struct {
	mu      sync.Mutex
	byAgent map[int]*AgentMetrics
}

// NewMetricsTable creates an empty table.
func NewMetricsTable() *MetricsTable {
	return &MetricsTable{byAgent: make(map[int]*AgentMetrics)}
}

// Get returns a copy of the metrics for agentID, zero-valued if unseen.
func (t *MetricsTable) Get(agentID int) AgentMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.byAgent[agentID]; ok {
		return *m
	}
	return AgentMetrics{}
}

// Mutate applies fn to the metrics for agentID under the table lock,
// creating a zero-valued entry first if necessary.
func (t *MetricsTable) Mutate(agentID int, fn func(m *AgentMetrics)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byAgent[agentID]
	if !ok {
		m = &AgentMetrics{}
		t.byAgent[agentID] = m
	}
	fn(m)
}

// IncWorkload adjusts CurrentWorkload by delta, floored at zero.
func (t *MetricsTable) IncWorkload(agentID int, delta int) {
	t.Mutate(agentID, func(m *AgentMetrics) {
		m.CurrentWorkload += delta
		if m.CurrentWorkload < 0 {
			m.CurrentWorkload = 0
		}
	})
}

// RecordCompletion increments TasksCompleted and folds durationMs into
// the running average completion time.
func (t *MetricsTable) RecordCompletion(agentID int, durationMs float64) {
	t.Mutate(agentID, func(m *AgentMetrics) {
		total := m.AverageCompletionMs * float64(m.TasksCompleted)
		m.TasksCompleted++
		m.AverageCompletionMs = (total + durationMs) / float64(m.TasksCompleted)
	})
}

// RecordFailure increments TasksFailed.
func (t *MetricsTable) RecordFailure(agentID int) {
	t.Mutate(agentID, func(m *AgentMetrics) { m.TasksFailed++ })
}

// RecordReview increments ReviewsDone.
func (t *MetricsTable) RecordReview(agentID int) {
	t.Mutate(agentID, func(m *AgentMetrics) { m.ReviewsDone++ })
}
