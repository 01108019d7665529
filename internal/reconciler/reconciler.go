// Package reconciler watches the jobs directory and turns file mutations
// into add/update/remove calls on the Scheduler Core.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"chronoflow/internal/eventlog"
	"chronoflow/internal/job"
	logx "chronoflow/pkg/logx"
)

// Scheduler is the subset of the Scheduler Core the reconciler drives.
type Scheduler interface {
	Add(def job.Definition) error
	Remove(jobID string) error
}

// fileState is the reconciler's private per-path bookkeeping. It is never
// touched outside the reconciliation loop, so it needs no lock.
type fileState struct {
	modTime time.Time
	jobID   string
}

const (
	debounceWindow     = 150 * time.Millisecond
	watcherRestartMin  = 250 * time.Millisecond
	watcherRestartMax  = 10 * time.Second
	watcherResetAfter  = 30 * time.Second
	nudgeChannelBuffer = 1
)

// Reconciler polls dir at pollInterval for *.json files. Polling is
// authoritative — chosen over kernel notifications for portability and
// because the scheduling cadence already lives at second granularity — but
// an fsnotify watcher, when available, nudges the loop to reconcile early
// instead of waiting out the rest of the poll interval.
type Reconciler struct {
	dir          string
	pollInterval time.Duration
	sched        Scheduler
	events       eventlog.Sink
	log          logx.Logger

	files map[string]fileState
}

func New(dir string, pollInterval time.Duration, sched Scheduler, events eventlog.Sink, log logx.Logger) *Reconciler {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if events == nil {
		events = discardSink{}
	}
	return &Reconciler{
		dir:          dir,
		pollInterval: pollInterval,
		sched:        sched,
		events:       events,
		log:          log,
		files:        map[string]fileState{},
	}
}

type discardSink struct{}

func (discardSink) Emit(eventlog.Event) {}

// Run blocks until ctx is cancelled, reconciling once immediately and then
// on every poll tick or watcher nudge.
func (r *Reconciler) Run(ctx context.Context) {
	nudge := make(chan struct{}, nudgeChannelBuffer)
	go r.watch(ctx, nudge)

	r.reconcile()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile()
		case <-nudge:
			r.reconcile()
		}
	}
}

// reconcile is one reconciliation tick: list the directory, add/update every
// job file that's new or changed, then remove any job whose file disappeared
// since the last tick. A panic or error handling one file never aborts the
// tick or affects other files.
func (r *Reconciler) reconcile() {
	defer func() {
		if p := recover(); p != nil {
			r.emitError(r.dir, fmt.Sprintf("panic: %v", p))
		}
	}()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.emitError(r.dir, err.Error())
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, de.Name())
		seen[path] = true
		r.reconcileFile(path, de)
	}

	for path, st := range r.files {
		if seen[path] {
			continue
		}
		if err := r.sched.Remove(st.jobID); err != nil {
			r.emitError(path, err.Error())
		}
		delete(r.files, path)
	}
}

func (r *Reconciler) reconcileFile(path string, de os.DirEntry) {
	info, err := de.Info()
	if err != nil {
		r.emitError(path, err.Error())
		return
	}

	prev, existed := r.files[path]
	if existed && info.ModTime().Equal(prev.modTime) {
		return
	}

	def, err := job.Parse(path)
	if err != nil {
		r.emitError(path, err.Error())
		return
	}

	if existed && prev.jobID != def.JobID {
		if err := r.sched.Remove(prev.jobID); err != nil {
			r.emitError(path, err.Error())
		}
	}

	if err := r.sched.Add(def); err != nil {
		r.emitError(path, err.Error())
		return
	}

	r.files[path] = fileState{modTime: info.ModTime(), jobID: def.JobID}
}

func (r *Reconciler) emitError(where, reason string) {
	r.events.Emit(eventlog.Event{Type: eventlog.Error, Fields: []eventlog.Field{
		eventlog.F("where", where),
		eventlog.F("reason", reason),
	}})
}

// watch runs the fsnotify fast-path, restarting itself with jittered
// exponential backoff if the watcher breaks — the poll loop keeps the
// directory in sync regardless, so a broken watcher only costs latency, not
// correctness.
func (r *Reconciler) watch(ctx context.Context, nudge chan<- struct{}) {
	backoff := watcherRestartMin
	for {
		if ctx.Err() != nil {
			return
		}

		startedAt := time.Now()
		err := r.watchOnce(ctx, nudge)
		if ctx.Err() != nil {
			return
		}

		if err != nil && !r.log.IsZero() {
			r.log.Warn("directory watcher failed, restarting",
				logx.Err(err), logx.Duration("backoff", backoff))
		}

		if time.Since(startedAt) >= watcherResetAfter {
			backoff = watcherRestartMin
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(backoff)):
		}

		backoff *= 2
		if backoff > watcherRestartMax {
			backoff = watcherRestartMax
		}
	}
}

func (r *Reconciler) watchOnce(ctx context.Context, nudge chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(r.dir); err != nil {
		return err
	}

	var debounce *time.Timer
	fireNudge := func() {
		select {
		case nudge <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(debounceWindow, fireNudge)
			} else {
				debounce.Reset(debounceWindow)
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			return werr
		}
	}
}

// jitter adds up to 20% pseudo-randomness to d using the current clock,
// avoiding synchronized restart storms without pulling in math/rand.
func jitter(d time.Duration) time.Duration {
	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return d + time.Duration(time.Now().UnixNano()%(spread+1))
}
