package circle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/event"
	"github.com/kandev/gathering/internal/facilitator"
)

func newTestCircle(t *testing.T, cfg Config) (*Circle, *event.Bus) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	bus := event.NewBus(log, 1024)
	fac := facilitator.New(5)
	return New("test-circle", cfg, fac, bus, log), bus
}

func TestReviewRejectionEscalates(t *testing.T) {
	c, bus := newTestCircle(t, Config{RequireReview: true, MaxIterations: 3})
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	a := &Agent{ID: 1, Name: "Author", Competencies: []string{"py"}}
	b := &Agent{ID: 2, Name: "Reviewer", CanReview: []string{"code"}}
	c.AddAgent(a)
	c.AddAgent(b)

	var escalations int
	kind := event.KindEscalation
	bus.Subscribe(&kind, "", func(evt *event.Event) error {
		escalations++
		reason, _ := evt.Payload["reason"].(string)
		assert.Contains(t, reason, "rejected")
		return nil
	})

	task := c.CreateTask("Implement X", "desc", []string{"py"}, 3)
	ok, err := c.ClaimTask(task.ID, a.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.SubmitTask(task.ID, a.ID, TaskResult{Summary: "done"}, []Artifact{{Kind: "code"}}))

	got, _ := c.Task(task.ID)
	require.Equal(t, TaskInReview, got.Status)
	require.NotNil(t, got.ReviewerID)

	require.NoError(t, c.SubmitReview(task.ID, *got.ReviewerID, ReviewRejected, nil, "no good", ""))

	final, _ := c.Task(task.ID)
	assert.Equal(t, TaskFailed, final.Status)
	assert.Equal(t, 1, escalations)
}

func TestChangesRequestedEscalatesPastMaxIterations(t *testing.T) {
	c, _ := newTestCircle(t, Config{RequireReview: true, MaxIterations: 2})
	require.NoError(t, c.Start(context.Background()))

	a := &Agent{ID: 1, Name: "Author"}
	b := &Agent{ID: 2, Name: "Reviewer", CanReview: []string{"code"}}
	c.AddAgent(a)
	c.AddAgent(b)

	task := c.CreateTask("T", "d", nil, 3)
	_, err := c.ClaimTask(task.ID, a.ID)
	require.NoError(t, err)
	require.NoError(t, c.SubmitTask(task.ID, a.ID, TaskResult{}, []Artifact{{Kind: "code"}}))

	got, _ := c.Task(task.ID)
	require.NoError(t, c.SubmitReview(task.ID, *got.ReviewerID, ReviewChangesRequested, nil, "", ""))
	got, _ = c.Task(task.ID)
	assert.Equal(t, TaskInProgress, got.Status)
	assert.Equal(t, 2, got.Iteration)

	require.NoError(t, c.SubmitTask(task.ID, a.ID, TaskResult{}, []Artifact{{Kind: "code"}}))
	got, _ = c.Task(task.ID)
	require.NoError(t, c.SubmitReview(task.ID, *got.ReviewerID, ReviewChangesRequested, nil, "", ""))

	final, _ := c.Task(task.ID)
	assert.Equal(t, TaskFailed, final.Status)
	assert.Equal(t, 3, final.Iteration)
}

func TestSubmitReviewIdempotentOnCompletedTask(t *testing.T) {
	c, _ := newTestCircle(t, Config{RequireReview: false})
	a := &Agent{ID: 1, Name: "Author"}
	c.AddAgent(a)
	task := c.CreateTask("T", "d", nil, 3)
	_, err := c.ClaimTask(task.ID, a.ID)
	require.NoError(t, err)
	require.NoError(t, c.SubmitTask(task.ID, a.ID, TaskResult{}, nil))

	got, _ := c.Task(task.ID)
	require.Equal(t, TaskCompleted, got.Status)

	err = c.SubmitReview(task.ID, a.ID, ReviewApproved, nil, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_STATE")
}

func TestConversationCompletesOnMarker(t *testing.T) {
	c, _ := newTestCircle(t, Config{})
	alice := &Agent{ID: 1, Name: "Alice", ProcessMessage: func(string) (string, error) { return "hello", nil }}
	bob := &Agent{ID: 2, Name: "Bob", ProcessMessage: func(string) (string, error) { return "ack [TERMINÉ]", nil }}
	c.AddAgent(alice)
	c.AddAgent(bob)

	result, err := c.Collaborate("planning", []int{1, 2}, 10, RoundRobin, nil, "kick off", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TurnsTaken)
	assert.Equal(t, ConversationCompleted, result.Conversation.Status)
	require.Len(t, result.Conversation.Messages, 2)
	assert.Equal(t, 1, result.Conversation.Messages[0].AgentID)
	assert.Equal(t, 2, result.Conversation.Messages[1].AgentID)
}

// TestConversationEndsWhenCallbackDeclines covers termination condition
// 3: a participant whose ProcessMessage returns an error ends the
// conversation as cancelled, rather than recording a placeholder and
// continuing to the next speaker.
func TestConversationEndsWhenCallbackDeclines(t *testing.T) {
	c, _ := newTestCircle(t, Config{})
	alice := &Agent{ID: 1, Name: "Alice", ProcessMessage: func(string) (string, error) { return "", assert.AnError }}
	bob := &Agent{ID: 2, Name: "Bob", ProcessMessage: func(string) (string, error) { return "hello", nil }}
	c.AddAgent(alice)
	c.AddAgent(bob)

	result, err := c.Collaborate("planning", []int{1, 2}, 10, RoundRobin, nil, "kick off", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TurnsTaken)
	assert.Equal(t, ConversationCancelled, result.Conversation.Status)
	assert.Empty(t, result.Conversation.Messages)
}

func TestRouteTaskAssignsOnCreateWhenAutoRoute(t *testing.T) {
	c, _ := newTestCircle(t, Config{AutoRoute: true})
	a := &Agent{ID: 1, Name: "Solo", Competencies: []string{"go"}}
	c.AddAgent(a)

	task := c.CreateTask("T", "d", []string{"go"}, 3)
	got, _ := c.Task(task.ID)
	assert.Equal(t, TaskAssigned, got.Status)
	require.NotNil(t, got.AssignedAgentID)
	assert.Equal(t, 1, *got.AssignedAgentID)
}
