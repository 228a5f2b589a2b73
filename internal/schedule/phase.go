package schedule

import "time"

// Phase is the lifecycle state of an assignment window.
type Phase string

const (
	PhaseScheduled  Phase = "scheduled"
	PhaseActive     Phase = "active"
	PhaseCompleted  Phase = "completed"
	PhaseCancelled  Phase = "cancelled"
	PhaseTerminated Phase = "terminated"
)

// Window is the temporal part of an assignment.
type Window struct {
	StartsAt  time.Time
	EndsAt    time.Time
	BufferMin int // early-admission buffer before StartsAt, must be >= 0
	Stored    Phase
}

// Terminal reports whether p is one of the manual terminal overrides.
func (p Phase) Terminal() bool {
	return p == PhaseCancelled || p == PhaseTerminated
}

// Resolve derives the lifecycle phase of w at the given instant. Cancelled and
// terminated are fixed points: once stored they are never overridden. The
// window opens BufferMin minutes ahead of the nominal start and closes
// strictly after EndsAt. Resolve is pure and idempotent for a given now.
func Resolve(w Window, now time.Time) Phase {
	if w.Stored.Terminal() {
		return w.Stored
	}
	buffer := w.BufferMin
	if buffer < 0 {
		buffer = 0
	}
	opensAt := w.StartsAt.Add(-time.Duration(buffer) * time.Minute)
	switch {
	case now.Before(opensAt):
		return PhaseScheduled
	case now.After(w.EndsAt):
		return PhaseCompleted
	default:
		return PhaseActive
	}
}
