package services

import (
	"fmt"
	"time"
)

// Leaderboard windows are computed in UTC so every instance agrees on the
// rollover instant regardless of server timezone.

// WeekKey returns the ISO-week key for t, e.g. "2026-W35".
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// MonthKey returns the month key for t, e.g. "2026-08".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// WeekStart returns the Monday 00:00:00 UTC opening t's ISO week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 { // Sunday
		weekday = 7
	}
	day := t.Truncate(24 * time.Hour)
	return day.AddDate(0, 0, -(weekday - 1))
}

// MonthStart returns the first instant of t's month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
