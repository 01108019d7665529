// Package observer defines the hooks the Scheduler Core calls out to at
// well-defined lifecycle points. Default implementations are no-ops;
// metrics and persistence sinks implement this interface.
package observer

import (
	"time"

	"chronoflow/internal/eventlog"
	"chronoflow/internal/execution"
)

// Observer receives lifecycle notifications. Implementations MUST NOT
// block the caller for long — the scheduler core invokes these synchronously
// from the dispatch loop and execution workers.
type Observer interface {
	OnEvent(e eventlog.Event)
	OnExecutionStarted(executionID, jobID string, startTime time.Time)
	OnExecutionFinished(rec execution.Record)
}

// Nop is the default no-op Observer.
type Nop struct{}

func (Nop) OnEvent(eventlog.Event)                                {}
func (Nop) OnExecutionStarted(string, string, time.Time)          {}
func (Nop) OnExecutionFinished(execution.Record)                  {}

// Multi fans a lifecycle call out to every observer in order. A panic in one
// observer is not caught here — callers are expected to wrap the fan-out
// itself (e.g. under the scheduler core's per-iteration panic recovery) so
// one broken observer cannot take down the process.
type Multi []Observer

func (m Multi) OnEvent(e eventlog.Event) {
	for _, o := range m {
		o.OnEvent(e)
	}
}

func (m Multi) OnExecutionStarted(executionID, jobID string, startTime time.Time) {
	for _, o := range m {
		o.OnExecutionStarted(executionID, jobID, startTime)
	}
}

func (m Multi) OnExecutionFinished(rec execution.Record) {
	for _, o := range m {
		o.OnExecutionFinished(rec)
	}
}
