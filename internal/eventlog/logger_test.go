package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEmitFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	at := time.Date(2026, 1, 2, 3, 4, 5, 678000000, time.UTC)
	l.Emit(Event{Type: ScheduleChange, JobID: "backup", At: at, Fields: []Field{
		F("old_schedule", "0 * * * *"),
		F("new_schedule", "*/5 * * * *"),
	}})

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := string(b)
	want := "[2026-01-02T03:04:05.678Z] SCHEDULE_CHANGE job_id=backup old_schedule=0 * * * * new_schedule=*/5 * * * *\n"
	if line != want {
		t.Fatalf("line = %q, want %q", line, want)
	}
}

func TestEmitWithoutJobID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.Emit(Event{Type: Start})
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), "] START\n") {
		t.Fatalf("unexpected line: %q", b)
	}
}

func TestErrorThrottling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 100; i++ {
		l.Emit(Event{Type: Error, JobID: "flaky", Fields: []Field{F("reason", "boom")}})
	}

	b, _ := os.ReadFile(path)
	lines := strings.Count(string(b), "\n")
	if lines >= 100 {
		t.Fatalf("expected throttling to drop most lines, got %d lines", lines)
	}
	if lines == 0 {
		t.Fatal("expected at least the initial burst to be logged")
	}
}
