package events

import (
	"fmt"
	"strings"

	"github.com/kandev/gathering/internal/common/config"
	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/events/bus"
)

// Provide builds the cross-process transport a Relay publishes onto:
// NATS when cfg.NATS.URL is set, otherwise the in-process no-op bus for
// a single-process run with no external relay target. The returned
// cleanup must be called on shutdown.
func Provide(cfg *config.Config, log *logger.Logger) (bus.EventBus, func(), error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS transport: %w", err)
		}
		return natsBus, natsBus.Close, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	return memBus, memBus.Close, nil
}
