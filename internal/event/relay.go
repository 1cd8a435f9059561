package event

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/events"
	"github.com/kandev/gathering/internal/events/bus"
)

// Relay forwards every event published on a Bus onto a transport-level
// bus.EventBus (memory or NATS, per internal/events.Provide), so a
// deployment running multiple processes can fan events out beyond this
// one. The engine's own components never read from the relay target;
// it is a one-way mirror for external consumers.
type Relay struct {
	transport bus.EventBus
	namespace string
	log       *logger.Logger
}

// NewRelay builds a Relay over an already-provisioned transport bus.
func NewRelay(transport bus.EventBus, namespace string, log *logger.Logger) *Relay {
	return &Relay{
		transport: transport,
		namespace: namespace,
		log:       log.WithFields(zap.String("component", "event_relay")),
	}
}

// Attach subscribes the relay to every event on b and mirrors each one
// onto the transport bus. The returned Subscription detaches the relay.
func (r *Relay) Attach(b *Bus) Subscription {
	return b.Subscribe(nil, "", func(evt *Event) error {
		return r.forward(evt)
	})
}

func (r *Relay) forward(evt *Event) error {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	var payload map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
	}

	transportEvt := bus.NewEvent(string(evt.Kind), "gathering", payload)
	transportEvt.ID = evt.ID
	transportEvt.Timestamp = evt.Timestamp

	for _, topic := range evt.Topics {
		subject := events.RelaySubject(r.namespace, topic)
		if err := r.transport.Publish(context.Background(), subject, transportEvt); err != nil {
			r.log.Warn("failed to relay event",
				zap.String("event_id", evt.ID),
				zap.String("subject", subject),
				zap.Error(err))
		}
	}
	if len(evt.Topics) == 0 {
		subject := events.RelaySubject(r.namespace, string(evt.Kind))
		if err := r.transport.Publish(context.Background(), subject, transportEvt); err != nil {
			r.log.Warn("failed to relay event", zap.String("event_id", evt.ID), zap.Error(err))
		}
	}
	return nil
}
