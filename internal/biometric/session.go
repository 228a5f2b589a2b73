package biometric

import (
	"errors"
	"fmt"
	"time"
)

// MaxAttempts bounds failed matches before the session locks.
const MaxAttempts = 3

type State string

const (
	StateIdle     State = "idle"
	StateSampling State = "sampling"
	StateScoring  State = "scoring"
	StateVerified State = "verified"
	StateRetrying State = "retrying"
	StateLocked   State = "locked"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateLocked
}

var (
	ErrLocked      = errors.New("biometric: session locked")
	ErrAlreadyDone = errors.New("biometric: session already terminal")
	ErrNotSampling = errors.New("biometric: no sample expected in current state")
)

// Sample is a live capture: the embedding extracted from one frame. An empty
// vector means no face was extractable from the frame.
type Sample struct {
	Vector     []float64
	CapturedAt time.Time
}

// Outcome describes the session after a scoring step.
type Outcome struct {
	State        State   `json:"state"`
	Score        float64 `json:"score"`
	Attempts     int     `json:"attempts"`
	AttemptsLeft int     `json:"attempts_left"`
	// Alternate is set when no enrolled reference exists and the session
	// degraded to the alternate verification outcome.
	Alternate bool `json:"alternate_verification"`
}

// Session is the per-check-in verification state machine:
// Idle -> Sampling -> Scoring -> {Verified | Retrying -> Sampling | Locked}.
// A failed extraction counts as a failed attempt. Verified and Locked are
// terminal; a Verified session never re-enters Retrying.
type Session struct {
	state     State
	reference []float64
	attempts  int
	lastScore float64
	alternate bool

	// OnTerminal, when set, releases the capture source. Called exactly once,
	// as soon as the session reaches a terminal state.
	OnTerminal func()
	released   bool
}

func NewSession(reference []float64) *Session {
	return &Session{state: StateIdle, reference: reference}
}

func (s *Session) State() State    { return s.state }
func (s *Session) Attempts() int   { return s.attempts }
func (s *Session) Score() float64  { return s.lastScore }
func (s *Session) Alternate() bool { return s.alternate }

// Begin moves Idle or Retrying into Sampling.
func (s *Session) Begin() error {
	switch s.state {
	case StateIdle, StateRetrying:
		s.state = StateSampling
		return nil
	case StateLocked:
		return ErrLocked
	case StateVerified:
		return ErrAlreadyDone
	default:
		return fmt.Errorf("biometric: cannot begin sampling from %s", s.state)
	}
}

// Submit scores one live sample against the enrolled reference and advances
// the machine. With no reference enrolled the session resolves immediately to
// the flagged alternate outcome instead of blocking.
func (s *Session) Submit(sample Sample) (Outcome, error) {
	if s.state != StateSampling {
		if s.state == StateLocked {
			return s.outcome(), ErrLocked
		}
		if s.state == StateVerified {
			return s.outcome(), ErrAlreadyDone
		}
		return s.outcome(), ErrNotSampling
	}

	if len(s.reference) == 0 {
		s.alternate = true
		s.terminate(StateVerified)
		return s.outcome(), nil
	}

	s.state = StateScoring
	s.lastScore = Score(sample.Vector, s.reference)
	if s.lastScore >= MinScore {
		s.terminate(StateVerified)
		return s.outcome(), nil
	}

	s.attempts++
	if s.attempts >= MaxAttempts {
		s.terminate(StateLocked)
	} else {
		s.state = StateRetrying
	}
	return s.outcome(), nil
}

func (s *Session) terminate(st State) {
	s.state = st
	if s.OnTerminal != nil && !s.released {
		s.released = true
		s.OnTerminal()
	}
}

func (s *Session) outcome() Outcome {
	left := MaxAttempts - s.attempts
	if left < 0 {
		left = 0
	}
	return Outcome{
		State:        s.state,
		Score:        s.lastScore,
		Attempts:     s.attempts,
		AttemptsLeft: left,
		Alternate:    s.alternate,
	}
}
