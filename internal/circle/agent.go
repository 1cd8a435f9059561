// Package circle implements the GatheringCircle: it owns a group of
// agents, their tasks, and their conversations, and drives the task
// lifecycle and turn-taking engine on top of a facilitator.Facilitator
// and an event.Bus.
package circle

// AcceptTaskFunc decides whether an agent takes on a proposed task. A
// nil callback is treated as an unconditional accept.
type AcceptTaskFunc func(task *Task) bool

// ExecuteTaskFunc performs the work of a claimed task and returns its result.
type ExecuteTaskFunc func(task *Task) (TaskResult, error)

// ProcessMessageFunc answers one conversation turn. A nil callback
// means the agent cannot participate in conversations: when it would be
// asked to speak, the conversation ends and is marked completed (a
// callback that returns an error instead ends it as cancelled).
type ProcessMessageFunc func(prompt string) (string, error)

// ReviewWorkFunc renders a review decision on a submitted artifact set.
type ReviewWorkFunc func(artifacts []Artifact) (Review, error)

// Agent is an autonomous actor belonging to exactly one Circle.
type Agent struct {
	ID              int
	Name            string
	Provider        string
	Model           string
	Competencies    []string
	CanReview       []string
	Active          bool
	CurrentTaskID   *int
	AcceptTask      AcceptTaskFunc
	ExecuteTask     ExecuteTaskFunc
	ProcessMessage  ProcessMessageFunc
	ReviewWork      ReviewWorkFunc
}

// CanReviewKind reports whether the agent declared it can review the
// given artifact kind.
func (a *Agent) CanReviewKind(kind string) bool {
	for _, k := range a.CanReview {
		if k == kind {
			return true
		}
	}
	return false
}

func (a *Agent) accept(task *Task) bool {
	if a.AcceptTask == nil {
		return true
	}
	return a.AcceptTask(task)
}
