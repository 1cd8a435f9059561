// Package bus provides the transport-level publish surface the event
// relay forwards onto: either NATS or an in-process no-op, selected by
// internal/events.Provide. It is deliberately publish-only — nothing in
// this engine subscribes on the transport side; a deployment that wants
// to consume the relayed stream does so as a separate NATS client
// outside this process.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the wire shape a relayed event is marshaled to.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new Event with a fresh id and current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventBus is the transport the relay publishes onto.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Close()
	IsConnected() bool
}
