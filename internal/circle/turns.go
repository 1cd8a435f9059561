package circle

import "math/rand"

// turnState tracks the mutable cursors the strategies need between turns.
type turnState struct {
	turnIndex     int // -1 before the first turn
	lastSpeaker   int
	rrCursor      int // round-robin cursor used as fallback by several strategies
	rng           *rand.Rand
}

// nextSpeaker returns the agent id who should speak next, or false if
// the strategy has nothing further to offer (never happens for the
// four strategies below, but kept for symmetry with termination
// condition 3 in the caller).
func nextSpeaker(strategy TurnStrategy, participants []int, facilitatorID *int, messages []Message, st *turnState) (int, bool) {
	n := len(participants)
	if n == 0 {
		return 0, false
	}

	switch strategy {
	case MentionBased:
		if len(messages) > 0 {
			last := messages[len(messages)-1]
			if speaker, ok := firstMentionedParticipant(last.Mentions, participants); ok {
				return speaker, true
			}
		}
		return roundRobinNext(participants, st), true

	case FreeForm:
		if len(messages) > 0 {
			last := messages[len(messages)-1]
			if speaker, ok := firstMentionedParticipant(last.Mentions, participants); ok && speaker != last.AgentID {
				return speaker, true
			}
		}
		return freeFormRandom(participants, st), true

	case FacilitatorLed:
		if facilitatorID == nil {
			return roundRobinNext(participants, st), true
		}
		if len(messages) == 0 {
			return *facilitatorID, true
		}
		last := messages[len(messages)-1]
		if last.AgentID == *facilitatorID {
			// facilitator just spoke: pick the next non-facilitator speaker
			if speaker, ok := firstMentionedParticipant(last.Mentions, participants); ok && speaker != *facilitatorID {
				return speaker, true
			}
			return nextNonFacilitator(participants, *facilitatorID, st), true
		}
		// a non-facilitator just spoke: facilitator speaks again
		return *facilitatorID, true

	default: // RoundRobin
		return roundRobinNext(participants, st), true
	}
}

func roundRobinNext(participants []int, st *turnState) int {
	n := len(participants)
	st.rrCursor = (st.rrCursor + 1) % n
	return participants[st.rrCursor]
}

func nextNonFacilitator(participants []int, facilitatorID int, st *turnState) int {
	n := len(participants)
	for i := 0; i < n; i++ {
		st.rrCursor = (st.rrCursor + 1) % n
		if participants[st.rrCursor] != facilitatorID {
			return participants[st.rrCursor]
		}
	}
	return facilitatorID
}

func freeFormRandom(participants []int, st *turnState) int {
	eligible := make([]int, 0, len(participants))
	for _, p := range participants {
		if p != st.lastSpeaker {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return participants[0]
	}
	return eligible[st.rng.Intn(len(eligible))]
}

func firstMentionedParticipant(mentions []int, participants []int) (int, bool) {
	if len(mentions) == 0 {
		return 0, false
	}
	isParticipant := make(map[int]bool, len(participants))
	for _, p := range participants {
		isParticipant[p] = true
	}
	for _, m := range mentions {
		if isParticipant[m] {
			return m, true
		}
	}
	return 0, false
}
