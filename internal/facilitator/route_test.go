package facilitator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteTask_HigherAvailabilityWins(t *testing.T) {
	f := New(5)
	f.Metrics.Mutate(1, func(m *AgentMetrics) { m.TasksCompleted = 10; m.CurrentWorkload = 0 })
	f.Metrics.Mutate(2, func(m *AgentMetrics) { m.TasksCompleted = 20; m.CurrentWorkload = 2 })

	candidates := []Candidate{
		{AgentID: 1, Competencies: []string{"py"}, Active: true},
		{AgentID: 2, Competencies: []string{"py"}, Active: true},
	}

	agentID := f.RouteTask(candidates, []string{"py"}, nil)
	require.NotNil(t, agentID)
	assert.Equal(t, 1, *agentID)
}

func TestRouteTask_FiltersInactiveAndMissingCompetency(t *testing.T) {
	f := New(5)
	candidates := []Candidate{
		{AgentID: 1, Competencies: []string{"go"}, Active: true},
		{AgentID: 2, Competencies: []string{"py"}, Active: false},
	}
	assert.Nil(t, f.RouteTask(candidates, []string{"py"}, nil))
}

func TestRouteTask_ExcludesGivenAgents(t *testing.T) {
	f := New(5)
	candidates := []Candidate{
		{AgentID: 1, Competencies: []string{"py"}, Active: true},
	}
	assert.Nil(t, f.RouteTask(candidates, []string{"py"}, map[int]bool{1: true}))
}

func TestRouteTask_TieBreaksOnLowerID(t *testing.T) {
	f := New(5)
	candidates := []Candidate{
		{AgentID: 3, Competencies: []string{"py"}, Active: true},
		{AgentID: 2, Competencies: []string{"py"}, Active: true},
	}
	agentID := f.RouteTask(candidates, []string{"py"}, nil)
	require.NotNil(t, agentID)
	assert.Equal(t, 2, *agentID)
}

func TestAcquire_DetectsFileCollision(t *testing.T) {
	f := New(5)
	require.Nil(t, f.Acquire("main.go", 1))

	conflict := f.Acquire("main.go", 2)
	require.NotNil(t, conflict)
	assert.Equal(t, ConflictFileCollision, conflict.Kind)
	assert.ElementsMatch(t, []int{1, 2}, conflict.AgentIDs)
}

func TestRelease_AllowsReacquisition(t *testing.T) {
	f := New(5)
	require.Nil(t, f.Acquire("main.go", 1))
	f.Release("main.go", 1)
	assert.Nil(t, f.Acquire("main.go", 2))
}
