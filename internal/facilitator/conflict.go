package facilitator

import (
	"sync"
	"time"
)

// ConflictKind enumerates the arbitration outcomes the facilitator can report.
type ConflictKind string

const (
	ConflictFileCollision      ConflictKind = "FILE_COLLISION"
	ConflictTaskOverlap        ConflictKind = "TASK_OVERLAP"
	ConflictConflictingReviews ConflictKind = "CONFLICTING_REVIEWS"
	ConflictDeadlock           ConflictKind = "DEADLOCK"
)

// Conflict records one detected arbitration issue. The facilitator
// never raises errors for conflicts; it returns them as values so the
// caller can decide whether to emit an event.
type Conflict struct {
	Kind       ConflictKind
	AgentIDs   []int
	Resource   string
	DetectedAt time.Time
	Resolved   bool
}

type lockTable struct {
	mu      sync.Mutex
	holders map[string]int
}

func newLockTable() *lockTable {
	return &lockTable{holders: make(map[string]int)}
}

// Acquire locks resource for agentID. Locks are advisory: if another
// agent already holds it, a FILE_COLLISION conflict is returned and the
// lock is left with its original holder; the caller decides how to act.
func (f *Facilitator) Acquire(resource string, agentID int) *Conflict {
	f.locks.mu.Lock()
	defer f.locks.mu.Unlock()

	if holder, ok := f.locks.holders[resource]; ok && holder != agentID {
		return &Conflict{
			Kind:       ConflictFileCollision,
			AgentIDs:   []int{holder, agentID},
			Resource:   resource,
			DetectedAt: time.Now().UTC(),
		}
	}
	f.locks.holders[resource] = agentID
	return nil
}

// Release drops agentID's lock on resource, if held.
func (f *Facilitator) Release(resource string, agentID int) {
	f.locks.mu.Lock()
	defer f.locks.mu.Unlock()
	if holder, ok := f.locks.holders[resource]; ok && holder == agentID {
		delete(f.locks.holders, resource)
	}
}

// ReportTaskOverlap records a conflict for re-routing a task already in
// progress under a different agent.
func (f *Facilitator) ReportTaskOverlap(currentHolder, proposed int) *Conflict {
	return &Conflict{
		Kind:       ConflictTaskOverlap,
		AgentIDs:   []int{currentHolder, proposed},
		DetectedAt: time.Now().UTC(),
	}
}

// ReportConflictingReviews records a conflict for two reviewers
// disagreeing on the same submission.
func (f *Facilitator) ReportConflictingReviews(reviewerA, reviewerB int) *Conflict {
	return &Conflict{
		Kind:       ConflictConflictingReviews,
		AgentIDs:   []int{reviewerA, reviewerB},
		DetectedAt: time.Now().UTC(),
	}
}

// ReportDeadlock exists as an explicit surface per the specification;
// the facilitator performs no automatic deadlock detection.
func (f *Facilitator) ReportDeadlock(agentIDs []int) *Conflict {
	return &Conflict{
		Kind:       ConflictDeadlock,
		AgentIDs:   agentIDs,
		DetectedAt: time.Now().UTC(),
	}
}
