package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hzakaria/guardpoint_backend/internal/schedule"
)

// Assignment is a time-boxed guarding task at a fixed site.
type Assignment struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Title       string
	SiteLat     float64
	SiteLon     float64
	BaseRadiusM float64
	StartsAt    time.Time `gorm:"index"`
	EndsAt      time.Time `gorm:"index"`
	// EarlyBufferMin opens the window ahead of StartsAt for early check-in.
	EarlyBufferMin int
	// Phase holds the persisted lifecycle phase. Derived phases are kept in
	// sync by the sweeper; cancelled/terminated are manual pins.
	Phase     string `gorm:"index;default:scheduled"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Assignment) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Phase == "" {
		a.Phase = string(schedule.PhaseScheduled)
	}
	return nil
}

// Window maps the assignment onto the resolver's input.
func (a *Assignment) Window() schedule.Window {
	return schedule.Window{
		StartsAt:  a.StartsAt,
		EndsAt:    a.EndsAt,
		BufferMin: a.EarlyBufferMin,
		Stored:    schedule.Phase(a.Phase),
	}
}

// AssignmentAgent maps an agent user to an assignment they work.
type AssignmentAgent struct {
	ID              uint   `gorm:"primaryKey"`
	UserIDRef       uint   `gorm:"uniqueIndex:uniq_agent_assignment"`
	AssignmentIDRef string `gorm:"type:uuid;uniqueIndex:uniq_agent_assignment"`
	CreatedAt       time.Time
}

// AssignmentSupervisor maps a supervisor to assignments they observe.
// Admins are allowed everywhere by role; this mapping scopes supervisors.
type AssignmentSupervisor struct {
	ID              uint   `gorm:"primaryKey"`
	UserIDRef       uint   `gorm:"uniqueIndex:uniq_supervisor_assignment"`
	AssignmentIDRef string `gorm:"type:uuid;uniqueIndex:uniq_supervisor_assignment"`
	CreatedAt       time.Time
}
