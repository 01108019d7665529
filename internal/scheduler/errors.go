package scheduler

import "errors"

// ErrClosed is returned by Add/Remove once Stop has been called: a stopped
// core rejects further schedule mutations rather than accepting them
// silently into a dispatch loop that is no longer running.
var ErrClosed = errors.New("scheduler: core is closed")
