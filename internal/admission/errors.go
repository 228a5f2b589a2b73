package admission

import (
	"errors"
	"fmt"

	"github.com/hzakaria/guardpoint_backend/internal/schedule"
)

var (
	// ErrBiometricLocked is terminal for the session; the caller must
	// re-authenticate, never silently retry.
	ErrBiometricLocked = errors.New("admission: biometric verification locked")
	// ErrDeviceIdentity is terminal; no retry inside this engine.
	ErrDeviceIdentity = errors.New("admission: device identity invalid")
	// ErrAlreadyEmitted guards the one-accept-per-session invariant.
	ErrAlreadyEmitted = errors.New("admission: session already emitted an accept")
	// ErrNoOpenRecord rejects a check-out without a matching open check-in.
	ErrNoOpenRecord = errors.New("admission: no open attendance record")
	// ErrAlreadyCheckedOut rejects a duplicate check-out.
	ErrAlreadyCheckedOut = errors.New("admission: record already checked out")
	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("admission: session not found")
	// ErrPending signals that gates are still converging, not a rejection.
	ErrPending = errors.New("admission: awaiting inputs")
)

// PhaseError rejects admission outside the active window. Recoverable later,
// not retryable at the current instant.
type PhaseError struct {
	Phase schedule.Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("admission: assignment not active (phase %s)", e.Phase)
}

// GeofenceError rejects an out-of-tolerance position. Recoverable by
// re-sampling.
type GeofenceError struct {
	DistanceM  float64
	ToleranceM float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("admission: outside geofence (%.0fm > %.0fm tolerance)", e.DistanceM, e.ToleranceM)
}

// RetryError carries the failed biometric score and remaining attempts.
type RetryError struct {
	Score        float64
	AttemptsLeft int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("admission: biometric score %.1f below threshold, %d attempts left", e.Score, e.AttemptsLeft)
}

// AcquisitionError wraps a terminal position-sampling failure. Recoverable by
// re-invoking sampling.
type AcquisitionError struct {
	Cause error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("admission: position acquisition failed: %v", e.Cause)
}

func (e *AcquisitionError) Unwrap() error { return e.Cause }
