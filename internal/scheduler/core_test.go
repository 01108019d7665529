package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chronoflow/internal/eventlog"
	"chronoflow/internal/execution"
	"chronoflow/internal/job"
	"chronoflow/internal/retry"
	logx "chronoflow/pkg/logx"
)

// fakeSink records emitted events in order, for assertions on event
// ordering.
type fakeSink struct {
	mu     sync.Mutex
	events []eventlog.Event
}

func (s *fakeSink) Emit(e eventlog.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *fakeSink) types() []eventlog.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]eventlog.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

// fakeExecutor is a scriptable execution.Executor. If block is non-nil, Run
// waits for a value on it before returning — used to hold a gate slot open
// long enough for a test to observe a competing firing being shed.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   int
	starts  []time.Time
	respond func(attempt int) execution.Record
	block   chan struct{}
}

func (f *fakeExecutor) Run(ctx context.Context, ectx execution.Context, def job.Definition) execution.Record {
	f.mu.Lock()
	f.calls++
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	rec := f.respond(ectx.Attempt)
	rec.ExecutionID = ectx.ExecutionID
	rec.JobID = ectx.JobID
	rec.Attempt = ectx.Attempt
	rec.StartTime = time.Now()
	rec.EndTime = rec.StartTime
	return rec
}

func newTestCore(t *testing.T, cfg Config, exec execution.Executor) (*Core, *fakeSink) {
	t.Helper()
	reg := execution.NewRegistry()
	reg.Register(job.TaskExecuteCommand, exec)
	logs := execution.NewLogWriter(filepath.Join(t.TempDir(), "logs"))
	retryCtl := retry.NewController(cfg.MaxRetries, cfg.RetryDelayBase)
	sink := &fakeSink{}
	c := New(cfg, reg, logs, retryCtl, sink, nil, logx.Nop())
	return c, sink
}

func testDef(jobID, schedule string) job.Definition {
	return job.Definition{
		JobID:    jobID,
		Schedule: schedule,
		Task: job.Task{
			Type:           job.TaskExecuteCommand,
			ExecuteCommand: job.ExecuteCommandTask{Command: "true"},
		},
	}
}

func TestAddIdempotentEmitsAddThenUnchanged(t *testing.T) {
	c, sink := newTestCore(t, Config{MaxConcurrentJobs: 1}, &fakeExecutor{respond: successRecord})
	def := testDef("backup", "0 * * * *")

	if err := c.Add(def); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(def); err != nil {
		t.Fatalf("Add (again): %v", err)
	}

	got := sink.types()
	if len(got) != 2 || got[0] != eventlog.Add || got[1] != eventlog.Unchanged {
		t.Fatalf("events = %v, want [ADD UNCHANGED]", got)
	}
	if len(c.JobIDs()) != 1 {
		t.Fatalf("uniqueness violated: %v", c.JobIDs())
	}
}

func TestAddScheduleChangeEmitsScheduleChange(t *testing.T) {
	c, sink := newTestCore(t, Config{MaxConcurrentJobs: 1}, &fakeExecutor{respond: successRecord})

	if err := c.Add(testDef("backup", "0 * * * *")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(testDef("backup", "*/5 * * * *")); err != nil {
		t.Fatalf("Add (changed): %v", err)
	}

	got := sink.types()
	if len(got) != 2 || got[0] != eventlog.Add || got[1] != eventlog.ScheduleChange {
		t.Fatalf("events = %v, want [ADD SCHEDULE_CHANGE]", got)
	}
}

func TestAddTaskChangeEmitsUpdate(t *testing.T) {
	c, sink := newTestCore(t, Config{MaxConcurrentJobs: 1}, &fakeExecutor{respond: successRecord})

	if err := c.Add(testDef("backup", "0 * * * *")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	changed := testDef("backup", "0 * * * *")
	changed.Task.ExecuteCommand.Command = "echo hi"
	if err := c.Add(changed); err != nil {
		t.Fatalf("Add (changed task): %v", err)
	}

	got := sink.types()
	if len(got) != 2 || got[0] != eventlog.Add || got[1] != eventlog.Update {
		t.Fatalf("events = %v, want [ADD UPDATE]", got)
	}
}

func TestAddInvalidScheduleLeavesPriorEntry(t *testing.T) {
	c, sink := newTestCore(t, Config{MaxConcurrentJobs: 1}, &fakeExecutor{respond: successRecord})

	if err := c.Add(testDef("backup", "0 * * * *")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(testDef("backup", "not a schedule")); err == nil {
		t.Fatal("expected classification error")
	}

	if len(c.JobIDs()) != 1 {
		t.Fatalf("prior entry should survive invalid replacement, got %v", c.JobIDs())
	}
	got := sink.types()
	if len(got) != 2 || got[1] != eventlog.InvalidSchedule {
		t.Fatalf("events = %v, want [ADD INVALID_SCHEDULE]", got)
	}
}

func TestOneTimePastDueSkipped(t *testing.T) {
	c, sink := newTestCore(t, Config{MaxConcurrentJobs: 1}, &fakeExecutor{respond: successRecord})

	if err := c.Add(testDef("once", "2000-01-01T00:00:00Z")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := sink.types()
	if len(got) != 2 || got[0] != eventlog.Add || got[1] != eventlog.SkippedPastDue {
		t.Fatalf("events = %v, want [ADD SKIPPED_PAST_DUE]", got)
	}
	if len(c.JobIDs()) != 0 {
		t.Fatalf("past-due one-time entry should be removed, got %v", c.JobIDs())
	}
}

func TestOneTimeFiringRetiresEntryWithComplete(t *testing.T) {
	c, sink := newTestCore(t, Config{MaxConcurrentJobs: 1}, &fakeExecutor{respond: successRecord})

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Add(testDef("once", "2026-01-01T12:05:00Z")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	now = now.Add(10 * time.Minute)
	due := c.snapshotAndAdvance(now)
	if len(due) != 1 {
		t.Fatalf("expected 1 due firing, got %d", len(due))
	}
	if len(c.JobIDs()) != 0 {
		t.Fatalf("one-time entry should be retired after firing, got %v", c.JobIDs())
	}

	got := sink.types()
	if len(got) != 2 || got[0] != eventlog.Add || got[1] != eventlog.Complete {
		t.Fatalf("events = %v, want [ADD COMPLETE]", got)
	}
}

func TestRemoveEmitsDeleteOnceForRepeatedRemove(t *testing.T) {
	c, sink := newTestCore(t, Config{MaxConcurrentJobs: 1}, &fakeExecutor{respond: successRecord})
	if err := c.Add(testDef("backup", "0 * * * *")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Remove("backup"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Remove("backup"); err != nil {
		t.Fatalf("Remove (again): %v", err)
	}

	got := sink.types()
	if len(got) != 2 || got[0] != eventlog.Add || got[1] != eventlog.Delete {
		t.Fatalf("events = %v, want [ADD DELETE] (second remove is a silent no-op)", got)
	}
}

func TestGateCapShedsExcessFirings(t *testing.T) {
	exec := &fakeExecutor{respond: successRecord, block: make(chan struct{})}
	c, sink := newTestCore(t, Config{MaxConcurrentJobs: 1}, exec)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Add(testDef("a", "* * * * *")); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := c.Add(testDef("b", "* * * * *")); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	now = now.Add(time.Minute)

	due := c.snapshotAndAdvance(now)
	if len(due) != 2 {
		t.Fatalf("expected 2 due firings, got %d", len(due))
	}
	for _, d := range due {
		c.fireOrShed(context.Background(), d)
	}
	close(exec.block)
	c.wg.Wait()

	shed := 0
	for _, ty := range sink.types() {
		if ty == eventlog.ConcurrencyShed {
			shed++
		}
	}
	if shed != 1 {
		t.Fatalf("expected exactly 1 CONCURRENCY_SHED, got %d (events=%v)", shed, sink.types())
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.calls != 1 {
		t.Fatalf("expected exactly 1 execution to have run under a cap of 1, got %d", exec.calls)
	}
}

func TestRetryProducesRecordPerAttemptWithBackoffGaps(t *testing.T) {
	exec := &fakeExecutor{respond: failureRecord(1)}
	c, _ := newTestCore(t, Config{MaxConcurrentJobs: 1, MaxRetries: 2, RetryDelayBase: 20 * time.Millisecond}, exec)

	c.runFiring(context.Background(), dueFiring{jobID: "flaky", def: testDef("flaky", "* * * * *")})

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.calls != 3 {
		t.Fatalf("expected 3 attempts (initial + 2 retries), got %d", exec.calls)
	}
	gap1 := exec.starts[1].Sub(exec.starts[0])
	gap2 := exec.starts[2].Sub(exec.starts[1])
	if gap1 < 15*time.Millisecond {
		t.Fatalf("gap1 = %v, want >= ~20ms", gap1)
	}
	if gap2 < 2*gap1-5*time.Millisecond {
		t.Fatalf("gap2 = %v should be roughly double gap1 = %v", gap2, gap1)
	}
}

func TestRetryNotAttemptedForNonRetryableExitCode(t *testing.T) {
	exec := &fakeExecutor{respond: failureRecord(127)}
	c, _ := newTestCore(t, Config{MaxConcurrentJobs: 1, MaxRetries: 3, RetryDelayBase: time.Millisecond}, exec)

	c.runFiring(context.Background(), dueFiring{jobID: "notfound", def: testDef("notfound", "* * * * *")})

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.calls != 1 {
		t.Fatalf("exit code 127 must never retry, got %d calls", exec.calls)
	}
}

func TestStartStopEmitsStartAndStop(t *testing.T) {
	c, sink := newTestCore(t, Config{MaxConcurrentJobs: 1, CheckInterval: time.Millisecond}, &fakeExecutor{respond: successRecord})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := sink.types()
	if len(got) != 2 || got[0] != eventlog.Start || got[1] != eventlog.Stop {
		t.Fatalf("events = %v, want [START STOP]", got)
	}

	if err := c.Add(testDef("late", "* * * * *")); err != ErrClosed {
		t.Fatalf("Add after Stop should be rejected, got %v", err)
	}
}

func successRecord(attempt int) execution.Record {
	return execution.Record{Status: execution.StatusSuccess, ExitCode: 0}
}

func failureRecord(exitCode int) func(int) execution.Record {
	return func(attempt int) execution.Record {
		return execution.Record{Status: execution.StatusFailure, ExitCode: exitCode}
	}
}
