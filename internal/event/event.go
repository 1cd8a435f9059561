// Package event implements the in-process publish/subscribe fabric that
// connects the facilitator, circle, executor, and scheduler. Delivery
// never crosses a process boundary; see internal/events/bus for the
// optional NATS relay used when a deployment wants cross-process fanout.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the event types the engine emits.
type Kind string

const (
	KindTaskCreated       Kind = "TASK_CREATED"
	KindTaskAssigned      Kind = "TASK_ASSIGNED"
	KindTaskClaimed       Kind = "TASK_CLAIMED"
	KindTaskSubmitted     Kind = "TASK_SUBMITTED"
	KindTaskCompleted     Kind = "TASK_COMPLETED"
	KindTaskFailed        Kind = "TASK_FAILED"
	KindTaskPendingNoAgent Kind = "TASK_PENDING_NO_AGENT"
	KindReviewRequested   Kind = "REVIEW_REQUESTED"
	KindReviewCompleted   Kind = "REVIEW_COMPLETED"
	KindMention           Kind = "MENTION"
	KindMessage           Kind = "MESSAGE"
	KindConflict          Kind = "CONFLICT"
	KindEscalation        Kind = "ESCALATION"
	KindAgentJoined       Kind = "AGENT_JOINED"
	KindAgentLeft         Kind = "AGENT_LEFT"
	KindCircleStarted     Kind = "CIRCLE_STARTED"
	KindCircleStopped     Kind = "CIRCLE_STOPPED"
	KindConversationStarted   Kind = "CONVERSATION_STARTED"
	KindConversationCompleted Kind = "CONVERSATION_COMPLETED"
	KindTaskStep          Kind = "TASK_STEP"
	KindBackgroundStarted Kind = "BACKGROUND_STARTED"
	KindBackgroundPaused  Kind = "BACKGROUND_PAUSED"
	KindBackgroundResumed Kind = "BACKGROUND_RESUMED"
	KindBackgroundCancelled Kind = "BACKGROUND_CANCELLED"
	KindBackgroundCompleted Kind = "BACKGROUND_COMPLETED"
	KindBackgroundFailed  Kind = "BACKGROUND_FAILED"
	KindBackgroundTimeout Kind = "BACKGROUND_TIMEOUT"
	KindBackgroundCheckpointed Kind = "BACKGROUND_CHECKPOINTED"
	KindBackgroundRecovered Kind = "BACKGROUND_RECOVERED"
	KindScheduleFired     Kind = "SCHEDULE_FIRED"
	KindScheduleSkipped   Kind = "SCHEDULE_SKIPPED"
	KindScheduleRetried   Kind = "SCHEDULE_RETRIED"
)

// Event is an immutable record published on the bus.
type Event struct {
	ID            string
	Kind          Kind
	Payload       map[string]any
	SourceAgentID *int
	Timestamp     time.Time
	Topics        []string
}

// New constructs an Event, stamping it with a fresh id and timestamp.
// Callers pass the topics the event belongs to; TopicsFor is a
// convenience for the common `resource` / `resource:id` pair.
func New(kind Kind, sourceAgentID *int, payload map[string]any, topics ...string) *Event {
	return &Event{
		ID:            uuid.New().String(),
		Kind:          kind,
		Payload:       payload,
		SourceAgentID: sourceAgentID,
		Timestamp:     time.Now().UTC(),
		Topics:        topics,
	}
}

// TopicsFor builds the conventional {resource, resource:id} topic pair,
// e.g. TopicsFor("agents", "7") -> ["agents", "agents:7"].
func TopicsFor(resource string, id string) []string {
	if id == "" {
		return []string{resource}
	}
	return []string{resource, resource + ":" + id}
}

// MatchesTopic reports whether an event carrying eventTopics satisfies a
// subscriber's topic filter. An empty filter matches everything. A
// filter matches an event topic exactly, or as a "T:*" prefix against
// any event topic of the form "T:something".
func MatchesTopic(filter string, eventTopics []string) bool {
	if filter == "" {
		return true
	}
	for _, t := range eventTopics {
		if t == filter {
			return true
		}
		if prefix, ok := strings.CutSuffix(filter, ":*"); ok {
			if strings.HasPrefix(t, prefix+":") {
				return true
			}
		}
	}
	return false
}
