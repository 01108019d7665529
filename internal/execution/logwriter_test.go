package execution

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogWriterFormat(t *testing.T) {
	dir := t.TempDir()
	w := NewLogWriter(dir)

	start := time.Date(2026, 1, 1, 12, 0, 0, 500000000, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	rec := Record{
		ExecutionID:     "exec-1",
		JobID:           "backup",
		Command:         "echo hi",
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: end.Sub(start).Seconds(),
		Status:          StatusSuccess,
		ExitCode:        0,
		Stdout:          []byte("hi\n"),
		Stderr:          nil,
	}

	if err := w.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, "backup", "exec-1.log")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	body := string(b)

	for _, want := range []string{
		"execution_id: exec-1\n",
		"job_id: backup\n",
		"command: echo hi\n",
		"status: SUCCESS\n",
		"exit_code: 0\n",
		"stdout:\nhi\n",
		"stderr:\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("log body missing %q; got:\n%s", want, body)
		}
	}
}

func TestLogWriterTruncationMarker(t *testing.T) {
	dir := t.TempDir()
	w := NewLogWriter(dir)

	rec := Record{
		ExecutionID:     "exec-2",
		JobID:           "noisy",
		StartTime:       time.Now().UTC(),
		EndTime:         time.Now().UTC(),
		Status:          StatusFailure,
		ExitCode:        1,
		Stdout:          []byte("partial output"),
		StdoutTruncated: 42,
	}
	if err := w.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "noisy", "exec-2.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(b), "[...truncated: 42 bytes dropped]") {
		t.Fatalf("missing truncation marker:\n%s", b)
	}
}
