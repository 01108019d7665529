package scheduler

import (
	"time"

	"chronoflow/internal/job"
	"chronoflow/internal/schedule"
)

// entry is one job's live scheduling state. Owned exclusively by Core and
// mutated only while Core.mu is held. Presence in Core.entries is itself the
// state: an entry with no goroutine firing is scheduled, one that snapshotAndAdvance
// deleted for having no further occurrence is gone, and anything in between
// lives only as a dueFiring passed to a firing goroutine.
type entry struct {
	def      job.Definition
	strategy schedule.Strategy
	nextFire time.Time
	lastFire time.Time

	// generation increments on every add() that replaces this job_id's
	// entry (schedule or task change), so callers can tell a fresh entry
	// from a mutated one without comparing every field.
	generation uint64
}
