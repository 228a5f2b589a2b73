package notify

import (
	"time"

	"github.com/hzakaria/guardpoint_backend/internal/logger"
)

const (
	EventCheckIn  = "checkin"
	EventCheckOut = "checkout"
)

// Event is a domain event handed to the notification layer. Delivery
// (message/voice/mail) is external; the engine only emits.
type Event struct {
	Type         string
	AgentID      string
	AssignmentID string
	At           time.Time
}

// Dispatcher receives domain events for out-of-band delivery. Implementations
// must not block the caller.
type Dispatcher interface {
	Dispatch(ev Event)
}

// LogDispatcher is the default sink when no delivery channel is wired.
type LogDispatcher struct {
	Log *logger.Logger
}

func (d *LogDispatcher) Dispatch(ev Event) {
	d.Log.Info("domain event",
		"type", ev.Type,
		"agent_id", ev.AgentID,
		"assignment_id", ev.AssignmentID,
		"at", ev.At,
	)
}
