package circle

import (
	"strconv"
	"strings"
	"time"

	"github.com/kandev/gathering/internal/apperrors"
	"github.com/kandev/gathering/internal/event"
)

// SendMessage appends to the circle's own message log (independent of
// any Conversation created via Collaborate) and emits a MENTION event
// per mentioned agent id, resolving @Name tokens against participant
// names in addition to any explicitly supplied mentions.
func (c *Circle) SendMessage(fromAgentID int, content string, mentions []int) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.agents[fromAgentID]; !ok {
		return Message{}, apperrors.NotFound("agent", strconv.Itoa(fromAgentID))
	}

	nameToID := c.nameIndexLocked()
	resolved := extractMentions(content, nameToID)
	all := dedupeInts(append(append([]int{}, mentions...), resolved...))

	msg := Message{
		AgentID:   fromAgentID,
		Content:   content,
		Mentions:  all,
		Timestamp: time.Now().UTC(),
		Kind:      "info",
	}
	c.messages = append(c.messages, msg)

	for _, mentioned := range all {
		c.emit(event.KindMention, &fromAgentID, map[string]any{"mentioned_agent_id": mentioned}, c.topics("agents", strconv.Itoa(mentioned))...)
	}
	c.emit(event.KindMessage, &fromAgentID, map[string]any{"content": content}, c.topics("circles", c.Name)...)

	return msg, nil
}

// nameIndexLocked builds a lowercase-name to agent-id lookup over every
// agent in the circle. When two agents share a name, one of them is
// kept; which one follows map iteration order and is not defined.
func (c *Circle) nameIndexLocked() map[string]int {
	idx := make(map[string]int, len(c.agents))
	for _, a := range c.agents {
		key := strings.ToLower(a.Name)
		if _, exists := idx[key]; !exists {
			idx[key] = a.ID
		}
	}
	return idx
}

func dedupeInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
