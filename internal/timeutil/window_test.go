package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var madrid = mustLoad("Europe/Madrid")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func TestDayBounds(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 40, 30, 0, madrid)

	start, end := DayBounds(now)

	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, madrid), start)
	assert.Equal(t, 15, end.Day())
	assert.Equal(t, 23, end.Hour())
	assert.True(t, end.After(now))
}

func TestRollingWindow(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	start, end := RollingWindow(now, 7)

	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, now, end)

	// Degenerate day count clamps to a single day.
	start, _ = RollingWindow(now, 0)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), start)
}

func TestOverdueMinutes(t *testing.T) {
	scheduled := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"forty minutes late", scheduled.Add(40 * time.Minute), 40},
		{"exactly due", scheduled, 0},
		{"partial minute late floors down", scheduled.Add(90 * time.Second), 1},
		{"thirty minutes early", scheduled.Add(-30 * time.Minute), -30},
		{"partial minute early floors down", scheduled.Add(-30 * time.Second), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OverdueMinutes(scheduled, tt.now))
		})
	}
}

func TestMinutesUntilDue(t *testing.T) {
	scheduled := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	now := scheduled.Add(-25 * time.Minute)

	assert.Equal(t, 25, MinutesUntilDue(scheduled, now))
	assert.Equal(t, -10, MinutesUntilDue(scheduled, scheduled.Add(10*time.Minute)))
}

func TestWithin(t *testing.T) {
	start := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC)

	assert.True(t, Within(start, start, end))
	assert.True(t, Within(end, start, end))
	assert.True(t, Within(start.Add(12*time.Hour), start, end))
	assert.False(t, Within(start.Add(-time.Second), start, end))
	assert.False(t, Within(end.Add(time.Second), start, end))
}

func TestZoneLabel(t *testing.T) {
	assert.Equal(t, "UTC", ZoneLabel(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)))
}
