// Package scheduler owns the schedule table, the dispatch loop, and the
// concurrency gate.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronoflow/internal/eventlog"
	"chronoflow/internal/execution"
	"chronoflow/internal/job"
	"chronoflow/internal/observer"
	"chronoflow/internal/retry"
	"chronoflow/internal/runtime/supervisor"
	"chronoflow/internal/schedule"
	logx "chronoflow/pkg/logx"
)

// Config controls dispatch cadence and resource limits. A zero
// MaxConcurrentJobs falls back to 1, a zero CheckInterval to 1s, and a zero
// ShutdownGrace to 30s; a zero JobTimeout means no per-execution deadline and
// a zero MaxRetries means no retries.
type Config struct {
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	MaxRetries        int
	RetryDelayBase    time.Duration
	CheckInterval     time.Duration
	ShutdownGrace     time.Duration
}

// errorRecurrenceThreshold and errorRecurrenceWindow escalate to FATAL when
// the dispatch loop hits the same kind of trouble repeatedly in a short
// span, rather than on any single error.
const (
	errorRecurrenceThreshold = 3
	errorRecurrenceWindow    = time.Minute
)

type discardSink struct{}

func (discardSink) Emit(eventlog.Event) {}

// Core is the schedule table plus its dispatch loop. All exported methods
// are safe to call from any goroutine. A Core is single-use: once Stop
// returns, Add/Remove are permanently rejected.
type Core struct {
	cfg      Config
	gate     *Gate
	registry *execution.Registry
	logs     *execution.LogWriter
	retryCtl *retry.Controller
	events   eventlog.Sink
	obs      observer.Observer
	log      logx.Logger
	now      func() time.Time
	errWin   *errorWindow

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	sup *supervisor.Supervisor
	wg  sync.WaitGroup
}

func New(cfg Config, registry *execution.Registry, logs *execution.LogWriter, retryCtl *retry.Controller, events eventlog.Sink, obs observer.Observer, log logx.Logger) *Core {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	if obs == nil {
		obs = observer.Nop{}
	}
	if events == nil {
		events = discardSink{}
	}
	return &Core{
		cfg:      cfg,
		gate:     NewGate(cfg.MaxConcurrentJobs),
		registry: registry,
		logs:     logs,
		retryCtl: retryCtl,
		events:   events,
		obs:      obs,
		log:      log,
		now:      time.Now,
		errWin:   newErrorWindow(errorRecurrenceThreshold, errorRecurrenceWindow),
		entries:  map[string]*entry{},
	}
}

// Add inserts or replaces the entry for def.JobID, classifying the change as
// ADD, UPDATE, UNCHANGED, SCHEDULE_CHANGE, or INVALID_SCHEDULE depending on
// how def compares to what's already scheduled for that job_id.
func (c *Core) Add(def job.Definition) error {
	now := c.now()
	strat, next, classErr := schedule.Classify(def.Schedule, now)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if classErr != nil {
		c.mu.Unlock()
		c.emit(eventlog.Event{Type: eventlog.InvalidSchedule, JobID: def.JobID, Fields: []eventlog.Field{
			eventlog.F("reason", classErr.Error()),
		}})
		return classErr
	}

	prev, existed := c.entries[def.JobID]
	e := &entry{def: def, strategy: strat, nextFire: next}

	var evt eventlog.Event
	switch {
	case !existed:
		e.generation = 1
		evt = eventlog.Event{Type: eventlog.Add, JobID: def.JobID, Fields: defFields(def)}
	case prev.def.Schedule == def.Schedule && prev.def.Task.Equivalent(def.Task):
		e = prev
		e.def.Description = def.Description
		evt = eventlog.Event{Type: eventlog.Unchanged, JobID: def.JobID, Fields: defFields(def)}
	case prev.def.Schedule != def.Schedule:
		e.generation = prev.generation + 1
		e.lastFire = prev.lastFire
		evt = eventlog.Event{Type: eventlog.ScheduleChange, JobID: def.JobID, Fields: append([]eventlog.Field{
			eventlog.F("old_schedule", prev.def.Schedule),
			eventlog.F("new_schedule", def.Schedule),
		}, defFields(def)...)}
	default:
		e.generation = prev.generation + 1
		e.lastFire = prev.lastFire
		evt = eventlog.Event{Type: eventlog.Update, JobID: def.JobID, Fields: defFields(def)}
	}
	c.entries[def.JobID] = e

	pastDue := e.strategy.IsPastDue(e.nextFire, now)
	if pastDue {
		delete(c.entries, def.JobID)
	}
	c.mu.Unlock()

	c.emit(evt)
	if pastDue {
		c.retryCtl.Cancel(def.JobID)
		c.emit(eventlog.Event{Type: eventlog.SkippedPastDue, JobID: def.JobID})
	}
	return nil
}

// defFields renders the parts of def that describe what the job is (as
// opposed to what it's doing right now), so any Observer watching the event
// stream can reconstruct a job table without its own copy of the schedule
// entry map.
func defFields(def job.Definition) []eventlog.Field {
	return []eventlog.Field{
		eventlog.F("description", def.Description),
		eventlog.F("schedule", def.Schedule),
		eventlog.F("task_type", string(def.Task.Type)),
		eventlog.F("task_config", def.Task.ConfigJSON()),
	}
}

// Remove deletes the entry for jobID if present.
func (c *Core) Remove(jobID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_, existed := c.entries[jobID]
	delete(c.entries, jobID)
	c.mu.Unlock()

	c.retryCtl.Cancel(jobID)
	if existed {
		c.emit(eventlog.Event{Type: eventlog.Delete, JobID: jobID})
	}
	return nil
}

// Start spawns the dispatch loop under a supervisor, so a panic in one tick
// restarts the loop rather than the process. Idempotent.
func (c *Core) Start(ctx context.Context) {
	c.mu.Lock()
	if c.sup != nil {
		c.mu.Unlock()
		return
	}
	c.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(c.log))
	sup := c.sup
	c.mu.Unlock()

	sup.GoRestart0("scheduler.dispatch", c.dispatchLoop,
		supervisor.WithRestartBackoff(100*time.Millisecond, 5*time.Second),
		supervisor.WithPublishFirstError(true),
	)
	c.emit(eventlog.Event{Type: eventlog.Start})
}

// Stop cancels the dispatch loop's context, waits up to ShutdownGrace for
// in-flight executions to return, and rejects further Add/Remove. In-flight
// executions run under that same context, so their commands are sent
// SIGTERM as soon as Stop is called; they are not left to run to completion.
func (c *Core) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sup := c.sup
	c.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	grace := c.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}

	select {
	case <-done:
	case <-time.After(grace):
	case <-ctx.Done():
	}

	c.emit(eventlog.Event{Type: eventlog.Stop})
	return nil
}

// JobIDs returns the set of job_ids currently scheduled. For diagnostics
// and tests.
func (c *Core) JobIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

func (c *Core) dispatchLoop(ctx context.Context) {
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick is one dispatch pass. A panic inside it is recovered here so a bug
// handling one entry never takes the loop down; the supervisor's own
// restart is a second line of defense for anything this recover misses.
func (c *Core) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.onLoopError(fmt.Sprintf("panic: %v", r))
		}
	}()

	due := c.snapshotAndAdvance(c.now())
	for _, d := range due {
		c.fireOrShed(ctx, d)
	}
}

type dueFiring struct {
	jobID string
	def   job.Definition
}

// snapshotAndAdvance holds the entry-map lock only long enough to find due
// entries and advance their next_fire_time; all I/O and dispatch happens
// after the lock is released.
func (c *Core) snapshotAndAdvance(now time.Time) []dueFiring {
	c.mu.Lock()
	var due []dueFiring
	var catchUps []string
	var completed []string
	for id, e := range c.entries {
		if e.nextFire.After(now) {
			continue
		}
		due = append(due, dueFiring{jobID: id, def: e.def})

		next, terminal, catchUp := e.strategy.Advance(e.nextFire, now)
		if terminal {
			delete(c.entries, id)
			completed = append(completed, id)
			continue
		}
		e.nextFire = next
		e.lastFire = now
		if catchUp {
			catchUps = append(catchUps, id)
		}
	}
	c.mu.Unlock()

	for _, id := range catchUps {
		c.emit(eventlog.Event{Type: eventlog.ScheduleCatchup, JobID: id})
	}
	// A one-time entry has no further occurrence once it fires; retire it
	// from whatever is counting active jobs (metrics, persistence) the same
	// way an explicit Remove would.
	for _, id := range completed {
		c.emit(eventlog.Event{Type: eventlog.Complete, JobID: id})
	}
	return due
}

func (c *Core) fireOrShed(ctx context.Context, d dueFiring) {
	// A firing supersedes any retry of this job still waiting on its
	// backoff.
	c.retryCtl.Cancel(d.jobID)

	if !c.gate.TryAcquire() {
		c.emit(eventlog.Event{Type: eventlog.ConcurrencyShed, JobID: d.jobID})
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.gate.Release()
		defer func() {
			if r := recover(); r != nil {
				c.onLoopError(fmt.Sprintf("panic executing %s: %v", d.jobID, r))
			}
		}()
		c.runFiring(ctx, d)
	}()
}

// runFiring runs one firing to completion, including any retries. It holds
// its concurrency gate slot for the whole chain so retries never exceed the
// gate cap.
func (c *Core) runFiring(ctx context.Context, d dueFiring) {
	attempt := 0
	for {
		executionID := uuid.NewString()
		ectx := execution.Context{
			ExecutionID: executionID,
			JobID:       d.jobID,
			Attempt:     attempt,
			Timeout:     c.cfg.JobTimeout,
		}

		c.obs.OnExecutionStarted(executionID, d.jobID, c.now())
		rec := c.registry.Run(ctx, ectx, d.def)

		if err := c.logs.Write(rec); err != nil {
			c.emit(eventlog.Event{Type: eventlog.Error, JobID: d.jobID, Fields: []eventlog.Field{
				eventlog.F("where", "log_writer"),
				eventlog.F("reason", err.Error()),
			}})
		}
		c.obs.OnExecutionFinished(rec)

		if rec.Status == execution.StatusSuccess {
			return
		}
		if !c.retryCtl.ShouldRetry(attempt, rec.ExitCode) {
			return
		}
		if !c.retryCtl.Wait(ctx, d.jobID, attempt) {
			return
		}
		attempt++
	}
}

func (c *Core) onLoopError(reason string) {
	c.emit(eventlog.Event{Type: eventlog.Error, Fields: []eventlog.Field{
		eventlog.F("where", "dispatch_loop"),
		eventlog.F("reason", reason),
	}})

	if c.errWin.record(reason, c.now()) {
		c.emit(eventlog.Event{Type: eventlog.Fatal, Fields: []eventlog.Field{
			eventlog.F("reason", reason),
		}})
		go func() { _ = c.Stop(context.Background()) }()
	}
}

func (c *Core) emit(e eventlog.Event) {
	if e.At.IsZero() {
		e.At = c.now()
	}
	c.events.Emit(e)
	c.obs.OnEvent(e)
}
