//go:build sqlite

// Package sqlite implements the optional relational persistence layer: an
// Observer that durably records schedule-lifecycle events and execution
// records.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chronoflow/internal/eventlog"
	"chronoflow/internal/execution"
	logx "chronoflow/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store persists lifecycle events and execution records to a single-file
// SQLite database. SQLite tolerates only one concurrent writer, so the pool
// is pinned to one connection.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(path string, busyTimeout time.Duration, log logx.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite persistence: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite persistence: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite persistence: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite persistence: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// jobTableEvents are the event types that describe a job's definition
// rather than just its runtime occurrence; the jobs table is kept current
// from these alone.
var jobTableEvents = map[eventlog.EventType]bool{
	eventlog.Add:            true,
	eventlog.Update:         true,
	eventlog.ScheduleChange: true,
	eventlog.Unchanged:      true,
}

var jobTableRetireEvents = map[eventlog.EventType]bool{
	eventlog.Delete:         true,
	eventlog.Complete:       true,
	eventlog.SkippedPastDue: true,
}

// OnEvent persists every schedule-lifecycle event to the append-only
// scheduler_events table, and keeps the jobs table — what jobs exist and
// what are they — current from the definition events that carry a
// description/schedule/task_type/task_config payload.
func (s *Store) OnEvent(e eventlog.Event) {
	if s == nil || s.db == nil {
		return
	}
	fields := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		fields[f.Key] = f.Value
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO scheduler_events(at, event_type, job_id, fields) VALUES (?, ?, ?, ?)`,
		e.At.UTC().Format(time.RFC3339Nano), string(e.Type), e.JobID, string(fieldsJSON),
	); err != nil && !s.log.IsZero() {
		s.log.Warn("persist scheduler event failed", logx.Err(err))
	}

	switch {
	case jobTableEvents[e.Type]:
		if _, err := s.db.Exec(
			`INSERT INTO jobs(job_id, description, schedule, task_type, task_config, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(job_id) DO UPDATE SET
			   description = excluded.description,
			   schedule = excluded.schedule,
			   task_type = excluded.task_type,
			   task_config = excluded.task_config,
			   updated_at = excluded.updated_at`,
			e.JobID, fields["description"], fields["schedule"], fields["task_type"], fields["task_config"],
			e.At.UTC().Format(time.RFC3339Nano),
		); err != nil && !s.log.IsZero() {
			s.log.Warn("persist job definition failed", logx.Err(err))
		}
	case jobTableRetireEvents[e.Type]:
		if _, err := s.db.Exec(`DELETE FROM jobs WHERE job_id = ?`, e.JobID); err != nil && !s.log.IsZero() {
			s.log.Warn("retire job definition failed", logx.Err(err))
		}
	}
}

// OnExecutionStarted has no execution-independent state to record: job
// existence and definition are tracked entirely by OnEvent, and the
// execution row itself is written once, complete, by OnExecutionFinished.
func (s *Store) OnExecutionStarted(executionID, jobID string, startTime time.Time) {}

func (s *Store) OnExecutionFinished(rec execution.Record) {
	if s == nil || s.db == nil {
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO executions(execution_id, job_id, attempt, command, start_time, end_time, duration_seconds, status, exit_code, stdout_truncated, stderr_truncated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.JobID, rec.Attempt, rec.Command,
		rec.StartTime.UTC().Format(time.RFC3339Nano), rec.EndTime.UTC().Format(time.RFC3339Nano),
		rec.DurationSeconds, string(rec.Status), rec.ExitCode, rec.StdoutTruncated, rec.StderrTruncated,
	); err != nil && !s.log.IsZero() {
		s.log.Warn("persist execution record failed", logx.Err(err))
	}
}
