package circle

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/gathering/internal/apperrors"
	"github.com/kandev/gathering/internal/common/stringutil"
	"github.com/kandev/gathering/internal/event"
)

// MessageCallback observes every message appended during a conversation.
type MessageCallback func(conv *Conversation, msg Message)

// CompleteCallback observes a conversation's terminal result.
type CompleteCallback func(result ConversationResult)

// transcriptTailChars bounds how much prior transcript is folded into
// each turn's prompt.
const transcriptTailChars = 4000

// Collaborate runs a Conversation to completion among agentIDs and
// returns its transcript. Callback panics/errors are logged and never
// abort the conversation; see (*Circle).emit for event delivery.
func (c *Circle) Collaborate(
	topic string,
	agentIDs []int,
	maxTurns int,
	strategy TurnStrategy,
	facilitatorID *int,
	initialPrompt string,
	onMessage MessageCallback,
	onComplete CompleteCallback,
) (*ConversationResult, error) {
	if len(agentIDs) < 2 {
		return nil, apperrors.BadInput("a conversation requires at least two participants")
	}
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if facilitatorID != nil && strategy == FacilitatorLed && !containsInt(agentIDs, *facilitatorID) {
		return nil, apperrors.BadInput("facilitator_id must be a participant")
	}

	c.mu.Lock()
	nameToID := make(map[string]int, len(agentIDs))
	agentsByID := make(map[int]*Agent, len(agentIDs))
	for _, id := range agentIDs {
		a, ok := c.agents[id]
		if !ok {
			c.mu.Unlock()
			return nil, apperrors.NotFound("agent", strconv.Itoa(id))
		}
		agentsByID[id] = a
		key := strings.ToLower(a.Name)
		if _, exists := nameToID[key]; !exists {
			nameToID[key] = id
		}
	}
	rng := c.rng
	conv := &Conversation{
		ID:            uuid.New().String(),
		Topic:         topic,
		Participants:  append([]int{}, agentIDs...),
		MaxTurns:      maxTurns,
		Status:        ConversationActive,
		TurnStrategy:  strategy,
		FacilitatorID: facilitatorID,
		CreatedAt:     time.Now().UTC(),
	}
	c.conversations[conv.ID] = conv
	c.mu.Unlock()

	c.emit(event.KindConversationStarted, nil, map[string]any{"topic": topic}, c.topics("conversations", conv.ID)...)

	st := &turnState{turnIndex: -1, lastSpeaker: -1, rrCursor: -1, rng: rng}
	turnsTaken := 0

	for {
		if turnsTaken >= maxTurns {
			break
		}

		speakerID, ok := nextSpeaker(strategy, conv.Participants, facilitatorID, conv.Messages, st)
		if !ok {
			break
		}

		agent, known := agentsByID[speakerID]
		if !known || agent.ProcessMessage == nil {
			break
		}

		prompt := c.buildPrompt(conv, topic, initialPrompt, speakerID, agent, nameToID)
		content, outcome := c.askWithTimeout(agent, prompt)
		if outcome == turnDeclined {
			c.mu.Lock()
			conv.Status = ConversationCancelled
			c.mu.Unlock()
			break
		}
		if outcome == turnTimedOut {
			content = NoResponseMarker
		}
		content = strings.TrimSpace(content)

		msg := Message{
			AgentID:   speakerID,
			Content:   content,
			Mentions:  extractMentions(content, nameToID),
			Timestamp: time.Now().UTC(),
			Kind:      "info",
		}

		c.mu.Lock()
		conv.Messages = append(conv.Messages, msg)
		c.mu.Unlock()

		turnsTaken++
		st.turnIndex++
		st.lastSpeaker = speakerID

		c.emit(event.KindMessage, &speakerID, map[string]any{"conversation_id": conv.ID, "content": content}, c.topics("conversations", conv.ID)...)
		c.safeOnMessage(onMessage, conv, msg)

		if containsCompletionMarker(content) {
			break
		}
	}

	c.mu.Lock()
	if conv.Status != ConversationCancelled {
		conv.Status = ConversationCompleted
	}
	now := time.Now().UTC()
	conv.CompletedAt = &now
	finalStatus := conv.Status
	c.mu.Unlock()

	result := ConversationResult{Conversation: conv, TurnsTaken: turnsTaken}
	c.emit(event.KindConversationCompleted, nil, map[string]any{"conversation_id": conv.ID, "turns_taken": turnsTaken, "status": string(finalStatus)}, c.topics("conversations", conv.ID)...)
	c.safeOnComplete(onComplete, result)

	return &result, nil
}

func (c *Circle) buildPrompt(conv *Conversation, topic, initialPrompt string, speakerID int, agent *Agent, nameToID map[string]int) string {
	var b strings.Builder
	b.WriteString("topic: ")
	b.WriteString(topic)
	b.WriteString("\nspeaker: ")
	b.WriteString(agent.Name)
	if len(conv.Messages) == 0 && initialPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(initialPrompt)
		return b.String()
	}

	var transcript strings.Builder
	for _, m := range conv.Messages {
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}
	full := transcript.String()
	tail := full
	if len(full) > transcriptTailChars {
		tail = "..." + stringutil.TruncateString(full[len(full)-transcriptTailChars:], transcriptTailChars)
	}
	b.WriteString("\n\ntranscript:\n")
	b.WriteString(tail)
	return b.String()
}

// turnOutcome distinguishes why a turn produced no usable content: a
// timed-out callback still has a turn to retry the speaker rotation on
// (recorded as NoResponseMarker), while a declining callback ends the
// conversation outright per termination condition 3 (no callback, or
// the callback declines).
type turnOutcome int

const (
	turnResponded turnOutcome = iota
	turnTimedOut
	turnDeclined
)

// askWithTimeout calls the agent's ProcessMessage callback, bounding it
// to the circle's configured per-turn deadline.
func (c *Circle) askWithTimeout(agent *Agent, prompt string) (content string, outcome turnOutcome) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := agent.ProcessMessage(prompt)
		ch <- result{text: text, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", turnDeclined
		}
		return r.text, turnResponded
	case <-time.After(c.cfg.TurnTimeout):
		return "", turnTimedOut
	}
}

func (c *Circle) safeOnMessage(cb MessageCallback, conv *Conversation, msg Message) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("conversation message callback panicked", zap.Any("recovered", r))
		}
	}()
	cb(conv, msg)
}

func (c *Circle) safeOnComplete(cb CompleteCallback, result ConversationResult) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("conversation complete callback panicked", zap.Any("recovered", r))
		}
	}()
	cb(result)
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
