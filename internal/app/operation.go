package app

import (
	"time"

	"dedup-go/internal/dedup"
)

// Operation identifies one run of the dedup binary. Its ID prefixes every log
// line written during the run, so lines from concurrent processes sharing a
// log directory can be told apart.
type Operation struct {
	ID        string
	Command   string
	StartedAt time.Time
}

// NewOperation creates an Operation for command starting at the clock's
// current time.
func NewOperation(command string, clock dedup.Clock, ids dedup.IDGenerator) *Operation {
	now := clock.Now().UTC()
	suffix := ids.New()
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return &Operation{
		ID:        now.Format("20060102T150405Z") + "-" + suffix,
		Command:   command,
		StartedAt: now,
	}
}

// Elapsed returns how long the operation has been running.
func (op *Operation) Elapsed(clock dedup.Clock) time.Duration {
	return clock.Now().Sub(op.StartedAt)
}
