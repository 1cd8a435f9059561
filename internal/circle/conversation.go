package circle

import (
	"regexp"
	"strings"
	"time"
)

// TurnStrategy selects the next speaker in a Conversation.
type TurnStrategy string

const (
	RoundRobin     TurnStrategy = "ROUND_ROBIN"
	MentionBased   TurnStrategy = "MENTION_BASED"
	FreeForm       TurnStrategy = "FREE_FORM"
	FacilitatorLed TurnStrategy = "FACILITATOR_LED"
)

// ConversationStatus tracks a Conversation's lifecycle.
type ConversationStatus string

const (
	ConversationPending   ConversationStatus = "pending"
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationCancelled ConversationStatus = "cancelled"
)

// CompletionMarker is the exact substring that ends a conversation the
// moment any message contains it, after trimming.
const CompletionMarker = "[TERMINÉ]"

// NoResponseMarker is recorded when a turn's deadline elapses with no reply.
const NoResponseMarker = "[no response]"

// Message is one turn in a Conversation.
type Message struct {
	AgentID   int
	Content   string
	Mentions  []int
	Timestamp time.Time
	// Kind is a free-form message type (info, question, decision, update,
	// request); it defaults to "info" and is never required by callers.
	Kind string
}

// Conversation is an ordered, turn-structured dialogue among agents on a topic.
type Conversation struct {
	ID            string
	Topic         string
	Participants  []int
	MaxTurns      int
	Messages      []Message
	Status        ConversationStatus
	TurnStrategy  TurnStrategy
	FacilitatorID *int
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// ConversationResult is returned once a Conversation runs to completion.
type ConversationResult struct {
	Conversation *Conversation
	TurnsTaken   int
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_]*)`)

// extractMentions finds every @Name token in content and resolves each
// against nameToID, case-insensitively, keeping the first participant
// whose name matches when duplicates exist.
func extractMentions(content string, nameToID map[string]int) []int {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	var ids []int
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if id, ok := nameToID[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// containsCompletionMarker reports whether content, trimmed, contains
// the literal completion marker.
func containsCompletionMarker(content string) bool {
	return strings.Contains(strings.TrimSpace(content), CompletionMarker)
}
