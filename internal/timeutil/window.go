// Package timeutil provides calendar-window helpers for dose derivation.
// All functions take the reference time as a parameter; nothing here reads
// the wall clock, so callers stay deterministic under test.
package timeutil

import "time"

// DayBounds returns midnight-to-end-of-day around now in now's location.
func DayBounds(now time.Time) (start, end time.Time) {
	start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end = start.Add(24*time.Hour - time.Nanosecond)
	return start, end
}

// RollingWindow returns an inclusive window ending at now and starting at
// local midnight days-1 days earlier. days must be >= 1.
func RollingWindow(now time.Time, days int) (start, end time.Time) {
	if days < 1 {
		days = 1
	}
	dayStart, _ := DayBounds(now)
	return dayStart.AddDate(0, 0, -(days - 1)), now
}

// OverdueMinutes returns whole minutes elapsed since scheduledAt. Negative
// values mean the dose is not yet due.
func OverdueMinutes(scheduledAt, now time.Time) int {
	d := now.Sub(scheduledAt)
	m := d / time.Minute
	if d < 0 && d%time.Minute != 0 {
		m-- // floor, not truncate, for partial minutes before due
	}
	return int(m)
}

// MinutesUntilDue is the mirror of OverdueMinutes: positive while the dose
// is still in the future.
func MinutesUntilDue(scheduledAt, now time.Time) int {
	return -OverdueMinutes(scheduledAt, now)
}

// Within reports whether ts falls inside [start, end], inclusive on both ends.
func Within(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}

// ZoneLabel returns the short zone name for now, e.g. "CET" or "UTC".
func ZoneLabel(now time.Time) string {
	name, _ := now.Zone()
	return name
}
