// Package eventlog appends schedule-lifecycle events to the scheduler event
// stream: an append-only, line-oriented audit trail that Observers and
// operators can both tail.
package eventlog

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type EventType string

const (
	Add              EventType = "ADD"
	Update           EventType = "UPDATE"
	Delete           EventType = "DELETE"
	ScheduleChange   EventType = "SCHEDULE_CHANGE"
	Unchanged        EventType = "UNCHANGED"
	InvalidSchedule  EventType = "INVALID_SCHEDULE"
	SkippedPastDue   EventType = "SKIPPED_PAST_DUE"
	ScheduleCatchup  EventType = "SCHEDULE_CATCHUP"
	Complete         EventType = "COMPLETE"
	ConcurrencyShed  EventType = "CONCURRENCY_SHED"
	Start            EventType = "START"
	Stop             EventType = "STOP"
	Error            EventType = "ERROR"
	Fatal            EventType = "FATAL"
)

// Field is one key=value pair appended to an event line, in call order.
type Field struct {
	Key   string
	Value string
}

func F(key, value string) Field { return Field{Key: key, Value: value} }

// Event is one schedule-lifecycle occurrence.
type Event struct {
	Type   EventType
	JobID  string
	Fields []Field
	At     time.Time
}

// Sink is what the Scheduler Core and Directory Reconciler call on every
// lifecycle mutation. Observers subscribe to the same events through
// internal/observer; Logger is the on-disk sink.
type Sink interface {
	Emit(e Event)
}

// Logger appends one line per event to an append-only file, line-buffered so
// a crash mid-write loses at most the in-flight line.
type Logger struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer

	// limiters throttles repeated noisy event types (ERROR, CONCURRENCY_SHED)
	// so a persistently broken job file or a saturated gate can't flood the
	// event log. Each event type gets its own token bucket.
	limiters   map[EventType]*rate.Limiter
	limitersMu sync.Mutex
}

// throttledEvents lists event types subject to rate limiting, and their
// allowed rate (events/sec, burst).
var throttledEvents = map[EventType]struct {
	rps   float64
	burst int
}{
	Error:           {rps: 5, burst: 10},
	ConcurrencyShed: {rps: 5, burst: 10},
}

// Open creates (or appends to) the scheduler event log at path.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &Logger{
		f:        f,
		w:        bufio.NewWriter(f),
		limiters: map[EventType]*rate.Limiter{},
	}, nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.f.Close()
}

// Emit renders and appends e, applying event-type throttling and skipping
// silently (not erroring) when a throttled type is over budget.
func (l *Logger) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	if lim, ok := throttledEvents[e.Type]; ok {
		if !l.limiterFor(e.Type, lim.rps, lim.burst).Allow() {
			return
		}
	}

	line := render(e)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.WriteString(line); err != nil {
		return
	}
	_ = l.w.Flush()
}

func (l *Logger) limiterFor(t EventType, rps float64, burst int) *rate.Limiter {
	l.limitersMu.Lock()
	defer l.limitersMu.Unlock()
	lim, ok := l.limiters[t]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rps), burst)
		l.limiters[t] = lim
	}
	return lim
}

func render(e Event) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(e.At.UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteString("] ")
	b.WriteString(string(e.Type))
	if e.JobID != "" {
		b.WriteString(" job_id=")
		b.WriteString(e.JobID)
	}
	for _, f := range e.Fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Value)
	}
	b.WriteByte('\n')
	return b.String()
}
