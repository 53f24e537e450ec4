package utils

import (
	"testing"
	"time"
)

func TestParseAndFormatDate(t *testing.T) {
	d, err := ParseDate("2024-03-15")
	if err != nil {
		t.Fatal(err)
	}
	if d.Location() != time.UTC {
		t.Errorf("ParseDate location = %v, want UTC", d.Location())
	}
	if got := FormatDate(d); got != "2024-03-15" {
		t.Errorf("FormatDate = %q", got)
	}
	if _, err := ParseDate("15/03/2024"); err == nil {
		t.Error("expected error for non-ISO date")
	}
}

func TestSameDayAcrossZones(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 01:00 IST is the previous day in UTC.
	a := time.Date(2024, 3, 15, 1, 0, 0, 0, ist)
	b := time.Date(2024, 3, 14, 23, 0, 0, 0, time.UTC)
	if !SameDay(a, b) {
		t.Error("instants on the same UTC day should match")
	}
	if SameDay(a, b.Add(2*time.Hour)) {
		t.Error("instants on different UTC days should not match")
	}
}

func TestSameMonth(t *testing.T) {
	a := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)
	if !SameMonth(a, b) {
		t.Error("same month, same year")
	}
	if SameMonth(a, c) {
		t.Error("same month, different year must not match")
	}
}

func TestSameISOWeek(t *testing.T) {
	// 2024-01-01 is a Monday; the prior Friday is in a different ISO week
	// (and ISO year).
	mon := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sun := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	fri := time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC)
	if !SameISOWeek(mon, sun) {
		t.Error("Monday and the following Sunday share an ISO week")
	}
	if SameISOWeek(mon, fri) {
		t.Error("different ISO weeks must not match")
	}
}

func TestQuarter(t *testing.T) {
	cases := map[time.Month]int{
		time.January: 1, time.March: 1,
		time.April: 2, time.June: 2,
		time.July: 3, time.September: 3,
		time.October: 4, time.December: 4,
	}
	for month, want := range cases {
		d := time.Date(2024, month, 15, 0, 0, 0, 0, time.UTC)
		if got := Quarter(d); got != want {
			t.Errorf("Quarter(%s) = %d, want %d", month, got, want)
		}
	}

	q1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	q1b := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	q2 := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if !SameQuarter(q1, q1b) || SameQuarter(q1, q2) {
		t.Error("SameQuarter boundary")
	}
}

func TestWeekdayIndexMondayZero(t *testing.T) {
	mon := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	for i := 0; i < 7; i++ {
		if got := WeekdayIndex(mon.AddDate(0, 0, i)); got != i {
			t.Errorf("WeekdayIndex(Monday+%d) = %d, want %d", i, got, i)
		}
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	if got := DaysBetween(a, b); got != 10 {
		t.Errorf("DaysBetween = %d, want 10", got)
	}
	if got := DaysBetween(b, a); got != -10 {
		t.Errorf("reversed DaysBetween = %d, want -10", got)
	}
}
