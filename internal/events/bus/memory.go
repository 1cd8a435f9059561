package bus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/gathering/internal/common/logger"
)

// MemoryEventBus is the no-op transport used when no NATS URL is
// configured: Publish never fails a local run that has no cross-process
// consumer, but it also delivers to nobody in-process. A deployment that
// wants the relayed stream runs NATS and sets NATS.URL instead.
type MemoryEventBus struct {
	mu     sync.RWMutex
	logger *logger.Logger
	closed bool
}

// NewMemoryEventBus creates a new in-memory (no-op) event bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{logger: log}
}

// Publish records the event at debug level; there is nothing in-process
// subscribed to the transport, so this is the relay's fallback sink.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	b.logger.Debug("relayed event (no cross-process transport configured)",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))

	return nil
}

// Close marks the bus closed; further Publish calls fail.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.logger.Info("memory event bus closed")
}

// IsConnected reports whether the bus is still accepting publishes.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}
