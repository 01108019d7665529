package schedule

import (
	"testing"
	"time"
)

func TestClassifyOneTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, next, err := Classify("2026-06-01T00:00:00Z", now)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if s.Kind != OneTime {
		t.Fatalf("expected OneTime, got %v", s.Kind)
	}
	want := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestClassifyRecurring(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	s, next, err := Classify("* * * * *", now)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if s.Kind != Recurring {
		t.Fatalf("expected Recurring, got %v", s.Kind)
	}
	want := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestClassifyInvalid(t *testing.T) {
	_, _, err := Classify("not a schedule", time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*InvalidScheduleError); !ok {
		t.Fatalf("expected *InvalidScheduleError, got %T", err)
	}
}

func TestIsPastDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, next, err := Classify("2000-01-01T00:00:00Z", now)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !s.IsPastDue(next, now) {
		t.Fatal("expected past-due instant to be reported past due")
	}
}

func TestAdvanceOneTimeIsTerminal(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, next, _ := Classify("2026-06-01T00:00:00Z", now)
	_, terminal, catchUp := s.Advance(next, now)
	if !terminal || catchUp {
		t.Fatalf("terminal=%v catchUp=%v, want terminal=true catchUp=false", terminal, catchUp)
	}
}

func TestAdvanceRecurringMonotonic(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s, next, _ := Classify("* * * * *", now)
	next2, terminal, catchUp := s.Advance(next, next)
	if terminal || catchUp {
		t.Fatalf("terminal=%v catchUp=%v, want both false", terminal, catchUp)
	}
	if !next2.After(next) {
		t.Fatalf("next_fire_time did not strictly increase: %v -> %v", next, next2)
	}
}

func TestAdvanceRecurringCatchUp(t *testing.T) {
	prevNext := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC) // an hour later, well beyond the catch-up window
	s, _, err := Classify("*/5 * * * *", prevNext.Add(-time.Minute))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	next, terminal, catchUp := s.Advance(prevNext, now)
	if terminal {
		t.Fatal("recurring schedule must not be terminal")
	}
	if !catchUp {
		t.Fatal("expected catch-up when recomputed next fell far behind now")
	}
	if next.Before(now) {
		t.Fatalf("catch-up next %v should be >= now %v", next, now)
	}
}
