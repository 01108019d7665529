package job

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// rawDefinition mirrors the on-disk JSON object. Unknown top-level fields
// are permitted and ignored, so this does not use DisallowUnknownFields.
type rawDefinition struct {
	JobID       string  `json:"job_id"`
	Description string  `json:"description"`
	Schedule    string  `json:"schedule"`
	Task        rawTask `json:"task"`
}

type rawTask struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// Parse reads path, decodes it as a UTF-8 JSON object, and validates it into
// a Definition. Any failure returns a *ValidationError naming the offending
// field; the caller (the Directory Reconciler) is responsible for preserving
// whatever definition was previously loaded for this path.
func Parse(path string) (Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, invalid(path, "", fmt.Sprintf("read: %v", err))
	}
	if !utf8.Valid(b) {
		return Definition{}, invalid(path, "", "file is not valid UTF-8")
	}

	var raw rawDefinition
	dec := json.NewDecoder(strings.NewReader(string(b)))
	if err := dec.Decode(&raw); err != nil {
		return Definition{}, invalid(path, "", fmt.Sprintf("invalid JSON: %v", err))
	}

	return validate(path, raw)
}

// ParseBytes validates an already-read JSON payload. Exposed for tests and
// for round-trip verification (Write then Parse).
func ParseBytes(path string, b []byte) (Definition, error) {
	var raw rawDefinition
	if err := json.Unmarshal(b, &raw); err != nil {
		return Definition{}, invalid(path, "", fmt.Sprintf("invalid JSON: %v", err))
	}
	return validate(path, raw)
}

func validate(path string, raw rawDefinition) (Definition, error) {
	jobID := strings.TrimSpace(raw.JobID)
	if jobID == "" {
		return Definition{}, invalid(path, "job_id", "must be a non-empty string")
	}

	schedule := raw.Schedule
	if strings.TrimSpace(schedule) == "" {
		return Definition{}, invalid(path, "schedule", "must be a non-empty string")
	}

	task, err := validateTask(path, raw.Task)
	if err != nil {
		return Definition{}, err
	}

	return Definition{
		JobID:       jobID,
		Description: raw.Description,
		Schedule:    schedule,
		Task:        task,
	}, nil
}

func validateTask(path string, raw rawTask) (Task, error) {
	switch TaskType(raw.Type) {
	case TaskExecuteCommand:
		if strings.TrimSpace(raw.Command) == "" {
			return Task{}, invalid(path, "task.command", "must be a non-empty string for type execute_command")
		}
		return Task{
			Type:           TaskExecuteCommand,
			ExecuteCommand: ExecuteCommandTask{Command: raw.Command},
		}, nil
	case "":
		return Task{}, invalid(path, "task.type", "must be set")
	default:
		return Task{}, invalid(path, "task.type", fmt.Sprintf("unrecognized task type %q", raw.Type))
	}
}

// Marshal renders a Definition back to the on-disk JSON format, used by
// round-trip tests and any tooling that writes job files.
func Marshal(d Definition) ([]byte, error) {
	raw := rawDefinition{
		JobID:       d.JobID,
		Description: d.Description,
		Schedule:    d.Schedule,
	}
	raw.Task.Type = string(d.Task.Type)
	if d.Task.Type == TaskExecuteCommand {
		raw.Task.Command = d.Task.ExecuteCommand.Command
	}
	return json.MarshalIndent(raw, "", "  ")
}
