package models

import "time"

// AttendanceRecord is written atomically when all admission gates hold.
// At most one open record (CheckOutAt null) exists per (agent, assignment);
// the orchestrator enforces this inside its transaction.
type AttendanceRecord struct {
	ID              uint   `gorm:"primaryKey"`
	UserIDRef       uint   `gorm:"index:idx_attendance_agent_assignment"`
	AssignmentIDRef string `gorm:"type:uuid;index:idx_attendance_agent_assignment"`
	CheckInAt       time.Time
	CheckOutAt      *time.Time
	// Audit detail captured at acceptance time.
	DistanceM       float64
	ToleranceM      float64
	BiometricScore  float64
	AltVerification bool
	DeviceID        string `gorm:"size:64"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Open reports whether the record is checked in but not yet checked out.
func (r *AttendanceRecord) Open() bool {
	return r.CheckOutAt == nil
}
