package nextrun

import (
	"testing"
	"time"
)

func TestCronEveryFiveMinutes(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	next, err := Cron("*/5 * * * *", "UTC", after)
	if err != nil {
		t.Fatalf("cron: %v", err)
	}
	want := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestCronIsIdempotentAndMonotonic(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	first, err := Cron("*/5 * * * *", "UTC", after)
	if err != nil {
		t.Fatalf("cron: %v", err)
	}
	second, err := Cron("*/5 * * * *", "UTC", first)
	if err != nil {
		t.Fatalf("cron: %v", err)
	}
	if !second.After(first) {
		t.Fatalf("expected strictly later next run, got %v after %v", second, first)
	}
}

func TestIntervalAdvancesByDuration(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := Interval(60, after)
	want := after.Add(60 * time.Second)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestWeekdayFindsNextMatchingDay(t *testing.T) {
	// Monday 2024-01-01 10:00 UTC; schedule fires Wednesdays (day=2) at 09:00.
	after := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	next, err := Weekday(`{"days":[2],"time":"09:00"}`, "UTC", after)
	if err != nil {
		t.Fatalf("weekday: %v", err)
	}
	want := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestOnceReturnsNoFurtherRun(t *testing.T) {
	_, ok := Once()
	if ok {
		t.Fatalf("expected once schedules to never compute a further run")
	}
}
