package appfoliosync

import (
	"testing"
	"time"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func TestIntervalForBusinessHours(t *testing.T) {
	hours := DefaultBusinessHours()
	loc := mustLocation(t, hours.Timezone)

	// Monday 10:30 local
	inHours := time.Date(2026, 3, 2, 10, 30, 0, 0, loc)
	if got := intervalFor(hours, inHours); got != inHoursInterval {
		t.Fatalf("intervalFor(in hours) = %v, expected %v", got, inHoursInterval)
	}

	// Monday 20:00 local
	evening := time.Date(2026, 3, 2, 20, 0, 0, 0, loc)
	if got := intervalFor(hours, evening); got != offHoursInterval {
		t.Fatalf("intervalFor(evening) = %v, expected %v", got, offHoursInterval)
	}

	// Saturday 10:30 local, weekdays only
	saturday := time.Date(2026, 3, 7, 10, 30, 0, 0, loc)
	if got := intervalFor(hours, saturday); got != offHoursInterval {
		t.Fatalf("intervalFor(saturday) = %v, expected %v", got, offHoursInterval)
	}
}

func TestInBusinessHoursBoundaries(t *testing.T) {
	hours := DefaultBusinessHours()
	loc := mustLocation(t, hours.Timezone)

	atOpen := time.Date(2026, 3, 2, 9, 0, 0, 0, loc)
	if !inBusinessHours(hours, atOpen) {
		t.Fatal("start hour must count as in hours")
	}
	atClose := time.Date(2026, 3, 2, 17, 0, 0, 0, loc)
	if inBusinessHours(hours, atClose) {
		t.Fatal("end hour must count as off hours")
	}
	beforeOpen := time.Date(2026, 3, 2, 8, 59, 0, 0, loc)
	if inBusinessHours(hours, beforeOpen) {
		t.Fatal("before the start hour must count as off hours")
	}
}

func TestInBusinessHoursWeekendsToggle(t *testing.T) {
	hours := DefaultBusinessHours()
	hours.WeekdaysOnly = false
	loc := mustLocation(t, hours.Timezone)

	saturday := time.Date(2026, 3, 7, 10, 30, 0, 0, loc)
	if !inBusinessHours(hours, saturday) {
		t.Fatal("saturday must count as in hours when weekends are enabled")
	}
}

func TestInBusinessHoursUnknownTimezoneFallsBackToUTC(t *testing.T) {
	hours := DefaultBusinessHours()
	hours.Timezone = "Not/AZone"

	utcMorning := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !inBusinessHours(hours, utcMorning) {
		t.Fatal("expected UTC fallback to treat 10:00 UTC as in hours")
	}
}

func TestSameLocalDay(t *testing.T) {
	loc := mustLocation(t, "America/New_York")

	// 03:00 UTC and 23:00 UTC the previous day are the same local calendar day
	a := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	b := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	if !sameLocalDay(a, b, loc) {
		t.Fatal("expected same local day across the UTC midnight boundary")
	}

	c := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	if sameLocalDay(a, c, loc) {
		t.Fatal("different days reported as the same")
	}
}
