package models

import (
	"encoding/json"
	"time"
)

type User struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   string `gorm:"uniqueIndex"`
	FullName string
	Email    string `gorm:"uniqueIndex"`
	Password string
	Role     string
	Phone    string
	Active   bool
	// FaceRef is the enrolled biometric reference: a JSON-encoded embedding
	// vector, set once at enrollment and replaced only by re-enrollment.
	// Empty means no reference is on file and verification degrades to the
	// alternate outcome.
	FaceRef   json.RawMessage `gorm:"type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FaceVector decodes the enrolled reference; nil when none is enrolled.
func (u *User) FaceVector() []float64 {
	if len(u.FaceRef) == 0 {
		return nil
	}
	var v []float64
	if err := json.Unmarshal(u.FaceRef, &v); err != nil {
		return nil
	}
	return v
}
