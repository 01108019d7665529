//go:build !sqlite

package sqlite

import (
	"errors"
	"time"

	"chronoflow/internal/eventlog"
	"chronoflow/internal/execution"
	logx "chronoflow/pkg/logx"
)

// Store is a stub implementing the same surface as the sqlite-tagged build,
// so callers can wire this package unconditionally and only lose
// persistence (not compilation) when built without -tags sqlite.
type Store struct{}

func Open(path string, busyTimeout time.Duration, log logx.Logger) (*Store, error) {
	return nil, errors.New("sqlite persistence not built: build with -tags sqlite")
}

func (s *Store) Close() error                                             { return nil }
func (s *Store) OnEvent(eventlog.Event)                                   {}
func (s *Store) OnExecutionStarted(executionID, jobID string, at time.Time) {}
func (s *Store) OnExecutionFinished(execution.Record)                     {}
