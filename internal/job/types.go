// Package job defines the on-disk job format and the in-memory Definition it
// parses into.
package job

import "encoding/json"

// Definition is the validated, in-memory form of one job file.
//
// Invariants (enforced by Parse): JobID is non-empty; Schedule is a
// non-empty string (its cron-vs-timestamp classification is Schedule
// Strategy's job, not the parser's); Task validates against its declared
// variant.
type Definition struct {
	JobID       string
	Description string
	Schedule    string
	Task        Task
}

// Equivalent reports whether two definitions have the same job_id, the same
// schedule and an equivalent task, ignoring Description. The round-trip test
// uses it; the scheduler core compares Schedule and Task.Equivalent directly
// to decide between UNCHANGED, SCHEDULE_CHANGE and UPDATE on re-add.
func (d Definition) Equivalent(other Definition) bool {
	return d.JobID == other.JobID && d.Schedule == other.Schedule && d.Task.Equivalent(other.Task)
}

// TaskType identifies a task variant. Adding a new variant requires a new
// TaskType constant, a new Task field, a parser branch, and a new executor —
// no change to the Scheduler Core.
type TaskType string

const (
	TaskExecuteCommand TaskType = "execute_command"
)

// Task is a tagged variant. Today only ExecuteCommand is populated; the
// struct-of-optional-variants shape (rather than an interface) keeps
// Definition trivially comparable and JSON round-trippable.
type Task struct {
	Type           TaskType
	ExecuteCommand ExecuteCommandTask
}

func (t Task) Equivalent(other Task) bool {
	if t.Type != other.Type {
		return false
	}
	switch t.Type {
	case TaskExecuteCommand:
		return t.ExecuteCommand.Command == other.ExecuteCommand.Command
	default:
		return true
	}
}

// ExecuteCommandTask runs Command through a shell.
type ExecuteCommandTask struct {
	Command string
}

// ConfigJSON renders the variant-specific fields of t as a JSON object,
// independent of the tagged-struct shape Task uses in memory. Persistence
// observers use this to record what a job actually runs without knowing
// about every task variant.
func (t Task) ConfigJSON() string {
	var v any
	switch t.Type {
	case TaskExecuteCommand:
		v = struct {
			Command string `json:"command"`
		}{t.ExecuteCommand.Command}
	default:
		v = struct{}{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
