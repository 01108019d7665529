package execution

import (
	"context"
	"fmt"

	"chronoflow/internal/job"
)

// Executor runs one task variant and produces its Record.
type Executor interface {
	Run(ctx context.Context, ectx Context, def job.Definition) Record
}

// Registry maps a task type to its Executor, mirroring the extensibility
// the job model calls for: adding a variant means a new Executor and a new
// registry entry, with no change to the Scheduler Core.
type Registry struct {
	executors map[job.TaskType]Executor
}

func NewRegistry() *Registry {
	r := &Registry{executors: map[job.TaskType]Executor{}}
	r.Register(job.TaskExecuteCommand, executeCommandAdapter{CommandExecutor{}})
	return r
}

func (r *Registry) Register(t job.TaskType, e Executor) {
	r.executors[t] = e
}

func (r *Registry) Get(t job.TaskType) (Executor, bool) {
	e, ok := r.executors[t]
	return e, ok
}

// Run dispatches def.Task.Type to its registered Executor. An unregistered
// type produces a FAILURE record rather than panicking, since this can only
// happen if a Definition bypassed job.Parse's validation.
func (r *Registry) Run(ctx context.Context, ectx Context, def job.Definition) Record {
	e, ok := r.Get(def.Task.Type)
	if !ok {
		return Record{
			ExecutionID: ectx.ExecutionID,
			JobID:       ectx.JobID,
			Attempt:     ectx.Attempt,
			Status:      StatusFailure,
			ExitCode:    SpawnFailureExitCode,
			Stderr:      []byte(fmt.Sprintf("no executor registered for task type %q", def.Task.Type)),
		}
	}
	return e.Run(ctx, ectx, def)
}

type executeCommandAdapter struct {
	CommandExecutor
}

func (a executeCommandAdapter) Run(ctx context.Context, ectx Context, def job.Definition) Record {
	return a.CommandExecutor.Run(ctx, ectx, def.Task.ExecuteCommand.Command)
}
