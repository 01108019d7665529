package execution

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// StreamCapCap bounds captured stdout/stderr so a runaway command can't
// exhaust memory; we use 1 MiB per stream.
const StreamCapCap = 1 << 20

// killGrace is how long a timed-out process is given to exit after SIGTERM
// before SIGKILL.
const killGrace = 5 * time.Second

// CommandExecutor runs the execute_command task variant: the command string
// through a shell.
type CommandExecutor struct {
	// Shell defaults to {"/bin/sh", "-c"} when empty.
	Shell []string
}

func (e CommandExecutor) shell() []string {
	if len(e.Shell) > 0 {
		return e.Shell
	}
	return []string{"/bin/sh", "-c"}
}

// Run executes command under ectx, enforcing ectx.Timeout if non-zero. It
// never returns an error itself — every failure mode (spawn failure,
// non-zero exit, signal, timeout) is folded into the returned Record's
// Status/ExitCode/Stderr.
func (e CommandExecutor) Run(ctx context.Context, ectx Context, command string) Record {
	start := time.Now().UTC()

	runCtx := ctx
	var cancel context.CancelFunc
	if ectx.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, ectx.Timeout)
		defer cancel()
	}

	shell := e.shell()
	args := append(append([]string{}, shell[1:]...), command)
	cmd := exec.CommandContext(runCtx, shell[0], args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var stdout, stderr boundedBuffer
	stdout.limit = StreamCapCap
	stderr.limit = StreamCapCap
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	rec := Record{
		ExecutionID: ectx.ExecutionID,
		JobID:       ectx.JobID,
		Attempt:     ectx.Attempt,
		Command:     command,
		StartTime:   start,
	}

	err := cmd.Start()
	if err != nil {
		rec.EndTime = time.Now().UTC()
		rec.DurationSeconds = rec.EndTime.Sub(start).Seconds()
		rec.Status = StatusFailure
		rec.ExitCode = SpawnFailureExitCode
		rec.Stderr = []byte(fmt.Sprintf("spawn failed: %v", err))
		return rec
	}

	waitErr := cmd.Wait()
	end := time.Now().UTC()
	rec.EndTime = end
	rec.DurationSeconds = end.Sub(start).Seconds()
	rec.Stdout, rec.StdoutTruncated = stdout.result()
	rec.Stderr, rec.StderrTruncated = stderr.result()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		rec.Status = StatusFailure
		rec.ExitCode = TimeoutExitCode
		rec.Stderr = append(rec.Stderr, []byte(fmt.Sprintf("\n[terminated: exceeded timeout %s]", ectx.Timeout))...)
	case waitErr == nil:
		rec.Status = StatusSuccess
		rec.ExitCode = 0
	default:
		rec.Status = StatusFailure
		rec.ExitCode = exitCodeOf(waitErr)
	}

	return rec
}

func exitCodeOf(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return SpawnFailureExitCode
}

// boundedBuffer caps how much a stream can accumulate, dropping the excess
// and remembering how many bytes were dropped so the writer can append a
// truncation marker.
type boundedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.dropped += n
		return n, nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.dropped += len(p) - remaining
	} else {
		b.buf.Write(p)
	}
	return n, nil
}

func (b *boundedBuffer) result() ([]byte, int) {
	return b.buf.Bytes(), b.dropped
}
