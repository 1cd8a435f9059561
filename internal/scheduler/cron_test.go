package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseCron_WeekdayRangeSkipsWeekend covers the scenario of firing
// "0 9 * * MON-FRI" from a Saturday: the next activation must land on
// the following Monday at 09:00, not Sunday.
func TestParseCron_WeekdayRangeSkipsWeekend(t *testing.T) {
	sched, err := ParseCron("0 9 * * MON-FRI")
	require.NoError(t, err)

	from := time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC) // Saturday
	want := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)  // Monday

	got := sched.Next(from)
	assert.True(t, got.Equal(want), "got %s, want %s", got, want)
}

func TestParseCron_InvalidExpression(t *testing.T) {
	_, err := ParseCron("not a cron expression")
	assert.Error(t, err)
}
