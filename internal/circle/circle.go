package circle

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/event"
	"github.com/kandev/gathering/internal/facilitator"
)

// Status is a Circle's lifecycle position.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusStarting      Status = "starting"
	StatusRunning       Status = "running"
	StatusStopping      Status = "stopping"
	StatusStopped       Status = "stopped"
	StatusPaused        Status = "paused"
)

// Config is the policy a Circle is created with.
type Config struct {
	RequireReview   bool
	AutoRoute       bool
	MaxIterations   int
	StopGracePeriod time.Duration
	TurnTimeout     time.Duration
}

// Circle owns a bounded group of agents, their tasks, and their
// conversations, and drives the task lifecycle and turn-taking engine.
type Circle struct {
	ID   string
	Name string
	cfg  Config

	mu            sync.Mutex
	status        Status
	agents        map[int]*Agent
	tasks         map[int]*Task
	nextTaskID    int
	conversations map[string]*Conversation
	messages      []Message

	fac *facilitator.Facilitator
	bus *event.Bus
	log *logger.Logger
	rng *rand.Rand
}

// New creates a Circle in the initializing state.
func New(name string, cfg Config, fac *facilitator.Facilitator, bus *event.Bus, log *logger.Logger) *Circle {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 60 * time.Second
	}
	return &Circle{
		ID:            uuid.New().String(),
		Name:          name,
		cfg:           cfg,
		status:        StatusInitializing,
		agents:        make(map[int]*Agent),
		tasks:         make(map[int]*Task),
		conversations: make(map[string]*Conversation),
		fac:           fac,
		bus:           bus,
		log:           log.WithFields(zap.String("component", "circle"), zap.String("circle_id", name)),
		rng:           rand.New(rand.NewSource(1)),
	}
}

// SeedRNG overrides the random source used by the FREE_FORM turn
// strategy, for deterministic tests.
func (c *Circle) SeedRNG(seed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rng = rand.New(rand.NewSource(seed))
}

func (c *Circle) topics(resource, id string) []string { return event.TopicsFor(resource, id) }

func (c *Circle) emit(kind event.Kind, sourceAgentID *int, payload map[string]any, topics ...string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(event.New(kind, sourceAgentID, payload, topics...))
}

// Start transitions the circle to running.
func (c *Circle) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusRunning
	c.emit(event.KindCircleStarted, nil, map[string]any{"circle": c.Name}, c.topics("circles", c.Name)...)
	return nil
}

// Stop refuses new claims and drains in-progress tasks for grace before
// forcing cancellation of stragglers.
func (c *Circle) Stop(ctx context.Context, grace time.Duration) error {
	c.mu.Lock()
	c.status = StatusStopping
	c.mu.Unlock()

	if grace <= 0 {
		grace = c.cfg.StopGracePeriod
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if c.countInProgress() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break
		case <-time.After(50 * time.Millisecond):
		}
	}

	c.mu.Lock()
	for id, t := range c.tasks {
		if !t.Status.IsTerminal() {
			c.failTaskLocked(id, t, "circle stopped")
		}
	}
	c.status = StatusStopped
	c.mu.Unlock()

	c.emit(event.KindCircleStopped, nil, map[string]any{"circle": c.Name}, c.topics("circles", c.Name)...)
	return nil
}

func (c *Circle) countInProgress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if t.Status == TaskInProgress || t.Status == TaskInReview {
			n++
		}
	}
	return n
}

// AddAgent registers an agent with the circle.
func (c *Circle) AddAgent(a *Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a.Active = true
	c.agents[a.ID] = a
	c.emit(event.KindAgentJoined, &a.ID, map[string]any{"name": a.Name}, c.topics("agents", strconv.Itoa(a.ID))...)
}

// RemoveAgent deactivates and removes an agent.
func (c *Circle) RemoveAgent(agentID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.agents[agentID]; ok {
		a.Active = false
	}
	delete(c.agents, agentID)
	c.emit(event.KindAgentLeft, &agentID, nil, c.topics("agents", strconv.Itoa(agentID))...)
}
