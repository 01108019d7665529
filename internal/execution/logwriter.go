package execution

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LogWriter persists Records at <log_root>/<job_id>/<execution_id>.log. The
// file is buffered fully in memory and flushed with one write, so a reader
// never observes a partially written record.
type LogWriter struct {
	Root string
}

func NewLogWriter(root string) *LogWriter {
	return &LogWriter{Root: root}
}

// Write renders rec and flushes it atomically to its target path. The
// per-job directory is created lazily, mode 0755.
func (w *LogWriter) Write(rec Record) error {
	dir := filepath.Join(w.Root, rec.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job log dir: %w", err)
	}

	path := filepath.Join(dir, rec.ExecutionID+".log")
	body := render(rec)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write execution log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize execution log: %w", err)
	}
	return nil
}

func render(rec Record) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "execution_id: %s\n", rec.ExecutionID)
	fmt.Fprintf(&b, "job_id: %s\n", rec.JobID)
	fmt.Fprintf(&b, "command: %s\n", rec.Command)
	fmt.Fprintf(&b, "start_time: %s\n", rec.StartTime.Format("2006-01-02T15:04:05.000000Z"))
	fmt.Fprintf(&b, "end_time:   %s\n", rec.EndTime.Format("2006-01-02T15:04:05.000000Z"))
	fmt.Fprintf(&b, "duration_seconds: %s\n", strconv.FormatFloat(rec.DurationSeconds, 'f', 6, 64))
	fmt.Fprintf(&b, "status: %s\n", rec.Status)
	fmt.Fprintf(&b, "exit_code: %d\n", rec.ExitCode)

	b.WriteString("stdout:\n")
	writeStream(&b, rec.Stdout, rec.StdoutTruncated)
	b.WriteString("stderr:\n")
	writeStream(&b, rec.Stderr, rec.StderrTruncated)

	return b.Bytes()
}

func writeStream(b *bytes.Buffer, data []byte, truncated int) {
	b.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		b.WriteByte('\n')
	}
	if truncated > 0 {
		fmt.Fprintf(b, "[...truncated: %d bytes dropped]\n", truncated)
	}
}
