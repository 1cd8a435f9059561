package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/gathering/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestMemoryEventBus_PublishFailsAfterClose(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	assert.True(t, b.IsConnected())

	require.NoError(t, b.Publish(context.Background(), "gathering.tasks", NewEvent("TASK_CREATED", "gathering", nil)))

	b.Close()
	assert.False(t, b.IsConnected())
	assert.Error(t, b.Publish(context.Background(), "gathering.tasks", NewEvent("TASK_CREATED", "gathering", nil)))
}
