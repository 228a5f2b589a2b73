package models

import "time"

// PositionReading is a persisted raw location fix. The live presence cache is
// reconciled against recent rows of this table on every new subscription.
type PositionReading struct {
	ID              uint   `gorm:"primaryKey"`
	UserIDRef       uint   `gorm:"index:idx_position_agent_time"`
	AssignmentIDRef string `gorm:"type:uuid;index"`
	Lat             float64
	Lon             float64
	AccuracyM       float64
	IsMoving        bool
	CapturedAt      time.Time `gorm:"index:idx_position_agent_time"`
	CreatedAt       time.Time
}
