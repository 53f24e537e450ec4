// Package utils holds small shared helpers.
package utils

import (
	"time"
)

// ParseDate parses a date string in "2006-01-02" form as a UTC instant.
func ParseDate(dateStr string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", dateStr, time.UTC)
}

// FormatDate formats a time.Time to "2006-01-02" in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// SameMonth reports whether a and b fall in the same UTC calendar month.
func SameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

// SameISOWeek reports whether a and b fall in the same ISO 8601 week.
func SameISOWeek(a, b time.Time) bool {
	ay, aw := a.UTC().ISOWeek()
	by, bw := b.UTC().ISOWeek()
	return ay == by && aw == bw
}

// Quarter returns the calendar quarter (1-4) of t in UTC.
func Quarter(t time.Time) int {
	return (int(t.UTC().Month())-1)/3 + 1
}

// SameQuarter reports whether a and b fall in the same calendar quarter.
func SameQuarter(a, b time.Time) bool {
	return a.UTC().Year() == b.UTC().Year() && Quarter(a) == Quarter(b)
}

// WeekdayIndex maps a weekday to the Monday=0 .. Sunday=6 convention
// used by calendar signals.
func WeekdayIndex(t time.Time) int {
	wd := int(t.UTC().Weekday())
	return (wd + 6) % 7
}

// DaysBetween returns the whole calendar days from a to b (b - a),
// negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	au := a.UTC().Truncate(24 * time.Hour)
	bu := b.UTC().Truncate(24 * time.Hour)
	return int(bu.Sub(au).Hours() / 24)
}
