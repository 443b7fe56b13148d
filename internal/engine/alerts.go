package engine

import (
	"fmt"
	"time"

	"github.com/pillpal/pillpald/internal/timeutil"
)

const (
	// DefaultGraceMinutes is how long after the scheduled time a pending
	// dose stays out of the missed bucket.
	DefaultGraceMinutes = 10

	// upcomingHorizonMinutes bounds the look-ahead for reminders.
	upcomingHorizonMinutes = 60

	// Trailing window and thresholds for the aggregate adherence warning.
	warningWindowDays    = 7
	warningMissThreshold = 3
	warningHighThreshold = 6
)

// DeriveAlerts computes the full alert list for one dose snapshot at one
// instant. Output order is missed, upcoming, then the aggregate warning;
// callers rank by the Priority field, not list position.
func DeriveAlerts(doses []Dose, now time.Time, graceMinutes int) []Alert {
	// Zero is a valid operator choice (no grace at all); only a negative
	// value falls back to the default.
	if graceMinutes < 0 {
		graceMinutes = DefaultGraceMinutes
	}

	dayStart, dayEnd := timeutil.DayBounds(now)
	alerts := make([]Alert, 0, len(doses))

	for _, d := range doses {
		if d.Status != DosePending {
			continue
		}
		if !timeutil.Within(d.ScheduledAt, dayStart, dayEnd) {
			continue
		}
		overdue := timeutil.OverdueMinutes(d.ScheduledAt, now)
		if overdue > graceMinutes {
			alerts = append(alerts, missedAlert(d, now, overdue))
		}
	}

	for _, d := range doses {
		if d.Status != DosePending {
			continue
		}
		until := timeutil.MinutesUntilDue(d.ScheduledAt, now)
		if until > 0 && until <= upcomingHorizonMinutes {
			alerts = append(alerts, upcomingAlert(d, now, until))
		}
	}

	if warning, ok := adherenceWarning(doses, now); ok {
		alerts = append(alerts, warning)
	}

	return alerts
}

func missedAlert(d Dose, now time.Time, overdue int) Alert {
	priority := PriorityLow
	switch {
	case overdue >= 60:
		priority = PriorityHigh
	case overdue >= 30:
		priority = PriorityMedium
	}

	return Alert{
		ID:    d.ID,
		Kind:  AlertMissedDose,
		Title: "Missed Dose Alert",
		Message: fmt.Sprintf("%s was due at %s %s, %d min overdue",
			d.DisplayName(),
			d.ScheduledAt.In(now.Location()).Format("15:04"),
			timeutil.ZoneLabel(now),
			overdue),
		Priority:       priority,
		Status:         AlertActive,
		CreatedAt:      now,
		SourceDoseID:   d.ID,
		MedicationName: d.MedicationName,
	}
}

func upcomingAlert(d Dose, now time.Time, until int) Alert {
	priority := PriorityLow
	switch {
	case until <= 5:
		priority = PriorityHigh
	case until <= 15:
		priority = PriorityMedium
	}

	return Alert{
		ID:             d.ID,
		Kind:           AlertUpcomingReminder,
		Title:          "Upcoming Dose",
		Message:        fmt.Sprintf("%s due in %d minutes", d.DisplayName(), until),
		Priority:       priority,
		Status:         AlertActive,
		CreatedAt:      now,
		SourceDoseID:   d.ID,
		MedicationName: d.MedicationName,
	}
}

// adherenceWarning counts every dose scheduled in the trailing 7 days that is
// not taken: skipped, snoozed, and pending-in-the-past all count as
// missed/unfinished. The alert id is stable within a calendar day so that
// acknowledgements of the same day's warning dedupe.
func adherenceWarning(doses []Dose, now time.Time) (Alert, bool) {
	start, _ := timeutil.RollingWindow(now, warningWindowDays)

	missed := 0
	for _, d := range doses {
		if d.ScheduledAt.Before(start) || !d.ScheduledAt.Before(now) {
			continue
		}
		if d.Status != DoseTaken {
			missed++
		}
	}

	if missed < warningMissThreshold {
		return Alert{}, false
	}

	priority := PriorityMedium
	if missed >= warningHighThreshold {
		priority = PriorityHigh
	}

	dayStart, _ := timeutil.DayBounds(now)
	return Alert{
		ID:    fmt.Sprintf("adherence-%d", dayStart.Unix()),
		Kind:  AlertAdherenceWarning,
		Title: "Adherence Concern",
		Message: fmt.Sprintf("You've missed %d doses this week. Consider setting more reminders.",
			missed),
		Priority:  priority,
		Status:    AlertActive,
		CreatedAt: now,
	}, true
}
