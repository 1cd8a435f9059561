package facilitator

import "sort"

// Candidate is the narrow view of an agent the router needs: enough to
// filter by competency and active status. The owning Circle builds this
// slice from its own Agent records.
type Candidate struct {
	AgentID      int
	Competencies []string
	Active       bool
}

// Facilitator routes tasks to agents and arbitrates conflicts. It is
// safe for concurrent use; Metrics and file locks are each guarded
// independently so routing and lock arbitration never block each other.
type Facilitator struct {
	Metrics     *MetricsTable
	locks       *lockTable
	maxWorkload int
}

// New creates a Facilitator. maxWorkload is the workload at which an
// agent's availability score reaches zero.
func New(maxWorkload int) *Facilitator {
	if maxWorkload <= 0 {
		maxWorkload = 5
	}
	return &Facilitator{
		Metrics:     NewMetricsTable(),
		locks:       newLockTable(),
		maxWorkload: maxWorkload,
	}
}

// RouteTask scores every active candidate that holds every required
// competency and is not in excluded, returning the winning agent id or
// nil if none qualify. Routing never errors; an empty result means the
// caller should emit TASK_PENDING_NO_AGENT itself.
func (f *Facilitator) RouteTask(candidates []Candidate, required []string, excluded map[int]bool) *int {
	type scored struct {
		agentID      int
		score        float64
		availability float64
		workload     int
	}

	var pool []scored
	for _, c := range candidates {
		if !c.Active {
			continue
		}
		if excluded != nil && excluded[c.AgentID] {
			continue
		}
		if !hasAll(c.Competencies, required) {
			continue
		}
		m := f.Metrics.Get(c.AgentID)
		availability := m.AvailabilityScore(f.maxWorkload)
		reverseWorkload := 1 / float64(1+m.CurrentWorkload)
		score := availability*0.6 + m.SuccessRate()*0.3 + reverseWorkload*0.1
		pool = append(pool, scored{agentID: c.AgentID, score: score, availability: availability, workload: m.CurrentWorkload})
	}

	if len(pool) == 0 {
		return nil
	}

	sort.Slice(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.availability != b.availability {
			return a.availability > b.availability
		}
		if a.workload != b.workload {
			return a.workload < b.workload
		}
		return a.agentID < b.agentID
	})

	winner := pool[0].agentID
	return &winner
}

func hasAll(have []string, required []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
