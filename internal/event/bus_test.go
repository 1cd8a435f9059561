package event

import (
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

func TestBus_PublishDeliversToKindSubscriber(t *testing.T) {
	b := NewBus(newTestLogger(t), 1024)
	kind := KindTaskCreated

	var received *Event
	b.Subscribe(&kind, "", func(evt *Event) error {
		received = evt
		return nil
	})

	evt := New(KindTaskCreated, nil, map[string]any{"title": "x"}, TopicsFor("tasks", "1")...)
	b.Publish(evt)

	require.NotNil(t, received)
	assert.Equal(t, evt.ID, received.ID)
}

func TestBus_WildcardSeesEveryKind(t *testing.T) {
	b := NewBus(newTestLogger(t), 1024)

	var seen []Kind
	b.Subscribe(nil, "", func(evt *Event) error {
		seen = append(seen, evt.Kind)
		return nil
	})

	b.Publish(New(KindTaskCreated, nil, nil))
	b.Publish(New(KindTaskClaimed, nil, nil))

	assert.Equal(t, []Kind{KindTaskCreated, KindTaskClaimed}, seen)
}

func TestBus_TopicFilterNarrowsDelivery(t *testing.T) {
	b := NewBus(newTestLogger(t), 1024)
	kind := KindMessage

	var delivered int
	b.Subscribe(&kind, "circles:research", func(evt *Event) error {
		delivered++
		return nil
	})

	b.Publish(New(KindMessage, nil, nil, TopicsFor("circles", "other")...))
	assert.Equal(t, 0, delivered)

	b.Publish(New(KindMessage, nil, nil, TopicsFor("circles", "research")...))
	assert.Equal(t, 1, delivered)
}

func TestBus_OrderingWithinSinglePublisher(t *testing.T) {
	b := NewBus(newTestLogger(t), 1024)

	var orderA, orderB []string
	b.Subscribe(nil, "", func(evt *Event) error {
		orderA = append(orderA, evt.ID)
		return nil
	})
	b.Subscribe(nil, "", func(evt *Event) error {
		orderB = append(orderB, evt.ID)
		return nil
	})

	e1 := New(KindTaskCreated, nil, nil)
	e2 := New(KindTaskClaimed, nil, nil)
	b.Publish(e1)
	b.Publish(e2)

	assert.Equal(t, []string{e1.ID, e2.ID}, orderA)
	assert.Equal(t, []string{e1.ID, e2.ID}, orderB)
}

func TestBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	b := NewBus(newTestLogger(t), 1024)

	failing := Kind("ANY")
	var secondRan bool
	b.Subscribe(&failing, "", func(evt *Event) error {
		return assert.AnError
	})
	b.Subscribe(&failing, "", func(evt *Event) error {
		secondRan = true
		return nil
	})

	b.Publish(New(failing, nil, nil))
	assert.True(t, secondRan)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(newTestLogger(t), 1024)
	kind := KindTaskCreated

	var count int
	sub := b.Subscribe(&kind, "", func(evt *Event) error {
		count++
		return nil
	})
	b.Publish(New(KindTaskCreated, nil, nil))
	sub.Unsubscribe()
	b.Publish(New(KindTaskCreated, nil, nil))

	assert.Equal(t, 1, count)
}

func TestBus_HistoryIsBoundedRing(t *testing.T) {
	b := NewBus(newTestLogger(t), 1024)
	for i := 0; i < 5; i++ {
		b.Publish(New(KindTaskCreated, nil, nil))
	}
	history := b.History(nil, 0)
	assert.Len(t, history, 5)

	kind := KindTaskCreated
	filtered := b.History(&kind, 2)
	assert.Len(t, filtered, 2)
}

func TestMatchesTopic(t *testing.T) {
	assert.True(t, MatchesTopic("", []string{"agents:7"}))
	assert.True(t, MatchesTopic("agents", []string{"agents", "agents:7"}))
	assert.True(t, MatchesTopic("agents:*", []string{"agents:7"}))
	assert.False(t, MatchesTopic("agents:*", []string{"circles:7"}))
	assert.False(t, MatchesTopic("circles", []string{"agents"}))
}
