package circle

import "time"

// TaskStatus is a CircleTask's position in the claim → execute → review
// lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskInReview   TaskStatus = "in_review"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether status is absorbing.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Artifact is one deliverable attached to a task submission.
type Artifact struct {
	Kind    string
	Content string
}

// TaskResult is the summary an agent returns from ExecuteTaskFunc.
type TaskResult struct {
	Summary string
	Data    map[string]any
}

// ReviewDecision is a reviewer's verdict on a submission.
type ReviewDecision string

const (
	ReviewApproved         ReviewDecision = "approved"
	ReviewChangesRequested ReviewDecision = "changes_requested"
	ReviewRejected         ReviewDecision = "rejected"
)

// Review records one reviewer's decision on a task submission.
type Review struct {
	ReviewerID int
	Decision   ReviewDecision
	Score      *float64
	Feedback   string
	Changes    string
	At         time.Time
}

// Task is a unit of work moving through the Circle's task lifecycle.
type Task struct {
	ID                    int
	Title                 string
	Description           string
	RequiredCompetencies  []string
	Priority              int
	AssignedAgentID       *int
	ReviewerID            *int
	Status                TaskStatus
	Iteration             int
	CreatedAt             time.Time
	StartedAt             *time.Time
	CompletedAt           *time.Time
	Artifacts             []Artifact
	Result                *TaskResult
	ReviewHistory         []Review
}
