// Package background runs step-bounded autonomous goal loops, one
// Runner per task, over a bounded worker pool, with checkpoint/resume
// and pause/cancel/timeout semantics.
package background

import (
	"context"
	"time"

	"github.com/kandev/gathering/internal/store"
)

// ExecuteFunc performs one step of a goal loop: given the accumulated
// context and prior step summaries, it returns the next action to
// record. A terminal result ends the task successfully.
type ExecuteFunc func(ctx context.Context, task *store.BackgroundTask, priorSteps []*store.TaskStep) (StepOutcome, error)

// StepOutcome is what an ExecuteFunc produced for one step.
type StepOutcome struct {
	ActionKind store.StepActionKind
	ToolUsed   string
	Output     string
	TokensIn   int
	TokensOut  int
	Terminal   bool
	Result     string
}

// AgentExecutors resolves the ExecuteFunc an agent exposes for its
// background tasks. A missing entry fails the task immediately.
type AgentExecutors interface {
	ExecuteFuncFor(agentID int) (ExecuteFunc, bool)
}

// StaticExecutors is the simplest AgentExecutors: a fixed map.
type StaticExecutors map[int]ExecuteFunc

func (m StaticExecutors) ExecuteFuncFor(agentID int) (ExecuteFunc, bool) {
	fn, ok := m[agentID]
	return fn, ok
}

func now() time.Time { return time.Now().UTC() }
