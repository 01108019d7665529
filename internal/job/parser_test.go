package job

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParseValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.json")
	writeFile(t, path, `{
		"job_id": "backup",
		"description": "nightly backup",
		"schedule": "0 * * * *",
		"task": {"type": "execute_command", "command": "echo hi"}
	}`)

	def, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if def.JobID != "backup" || def.Schedule != "0 * * * *" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if def.Task.Type != TaskExecuteCommand || def.Task.ExecuteCommand.Command != "echo hi" {
		t.Fatalf("unexpected task: %+v", def.Task)
	}
}

func TestParseUnknownFieldsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "j.json")
	writeFile(t, path, `{
		"job_id": "j1",
		"schedule": "* * * * *",
		"task": {"type": "execute_command", "command": "true"},
		"owner": "someone",
		"tags": ["a", "b"]
	}`)

	if _, err := Parse(path); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestParseMissingJobID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "j.json")
	writeFile(t, path, `{"schedule": "* * * * *", "task": {"type": "execute_command", "command": "true"}}`)

	_, err := Parse(path)
	if err == nil {
		t.Fatal("expected error for missing job_id")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Field != "job_id" {
		t.Fatalf("expected field job_id, got %q", ve.Field)
	}
}

func TestParseUnrecognizedTaskType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "j.json")
	writeFile(t, path, `{"job_id": "j1", "schedule": "* * * * *", "task": {"type": "send_email"}}`)

	_, err := Parse(path)
	if err == nil || !strings.Contains(err.Error(), "task.type") {
		t.Fatalf("expected task.type error, got %v", err)
	}
}

func TestParseEmptyCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "j.json")
	writeFile(t, path, `{"job_id": "j1", "schedule": "* * * * *", "task": {"type": "execute_command", "command": ""}}`)

	if _, err := Parse(path); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestRoundTrip(t *testing.T) {
	def := Definition{
		JobID:       "backup",
		Description: "nightly backup",
		Schedule:    "0 * * * *",
		Task:        Task{Type: TaskExecuteCommand, ExecuteCommand: ExecuteCommandTask{Command: "echo hi"}},
	}
	b, err := Marshal(def)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := ParseBytes("<memory>", b)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if !def.Equivalent(got) {
		t.Fatalf("round trip mismatch: %+v vs %+v", def, got)
	}
}

func asValidationError(err error, out **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if ok {
		*out = ve
	}
	return ok
}
