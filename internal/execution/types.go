// Package execution runs one task instance and captures its outcome, then
// persists it as a structured execution record.
package execution

import "time"

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// SpawnFailureExitCode is reported when the child process could not be
// started at all.
const SpawnFailureExitCode = -1

// TimeoutExitCode is the sentinel exit code recorded when an execution is
// force-killed after exceeding its deadline.
const TimeoutExitCode = -2

// Context carries per-firing identity into the executor.
type Context struct {
	ExecutionID string
	JobID       string
	Attempt     int // 0-indexed
	Timeout     time.Duration
}

// Record is the immutable artifact produced per firing attempt.
type Record struct {
	ExecutionID     string
	JobID           string
	Attempt         int
	Command         string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64
	Status          Status
	ExitCode        int
	Stdout          []byte
	StdoutTruncated int // bytes dropped, 0 if not truncated
	Stderr          []byte
	StderrTruncated int
}
