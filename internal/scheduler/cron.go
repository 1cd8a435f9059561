package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kandev/gathering/internal/store"
)

// CronSchedule wraps a parsed standard 5-field cron expression
// (minute hour dom month dow), including MON-FRI style day-of-week
// ranges.
type CronSchedule struct {
	raw      string
	schedule cron.Schedule
}

// ParseCron parses a standard 5-field cron expression.
func ParseCron(expr string) (*CronSchedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return &CronSchedule{raw: expr, schedule: schedule}, nil
}

// Next returns the smallest activation time strictly after t.
func (c *CronSchedule) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

func (c *CronSchedule) String() string {
	return c.raw
}

// computeNextRun dispatches next-run computation by schedule type.
// For interval schedules it adds the interval to from; the scheduler
// passes the current time, so the next run is measured from when the
// previous run settled (or from when the action was first seen).
func computeNextRun(action *store.ScheduledAction, from time.Time) (time.Time, error) {
	switch action.Type {
	case store.ScheduleCron:
		sched, err := ParseCron(action.CronExpression)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(from), nil
	case store.ScheduleInterval:
		if action.IntervalSeconds <= 0 {
			return time.Time{}, fmt.Errorf("interval action %s has non-positive interval", action.ID)
		}
		return from.Add(time.Duration(action.IntervalSeconds) * time.Second), nil
	default:
		return time.Time{}, fmt.Errorf("schedule type %q has no periodic next run", action.Type)
	}
}
