package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hzakaria/guardpoint_backend/internal/biometric"
	"github.com/hzakaria/guardpoint_backend/internal/geo"
	"github.com/hzakaria/guardpoint_backend/internal/identity"
	"github.com/hzakaria/guardpoint_backend/internal/logger"
	"github.com/hzakaria/guardpoint_backend/internal/models"
	"github.com/hzakaria/guardpoint_backend/internal/notify"
	"github.com/hzakaria/guardpoint_backend/internal/position"
	"github.com/hzakaria/guardpoint_backend/internal/schedule"
)

type Mode string

const (
	ModeCheckIn  Mode = "checkin"
	ModeCheckOut Mode = "checkout"
)

// EventSink receives admitted attendance events for real-time fan-out.
// Implemented by the presence hub.
type EventSink interface {
	CheckedIn(rec models.AttendanceRecord)
	CheckedOut(rec models.AttendanceRecord)
}

// Session is one agent's admission attempt. Position sampling and biometric
// sampling run as independent streams and converge here; the session is
// level-triggered and emits the instant every gate holds, at most once.
type Session struct {
	ID         string
	User       models.User
	Assignment models.Assignment
	Mode       Mode
	DeviceID   string

	mu       sync.Mutex
	bio      *biometric.Session
	src      *position.PushSource
	cancel   context.CancelFunc
	gen      int // sampling generation, guards stale collector results
	sampling bool
	progress position.Progress
	estimate *geo.Estimate
	geoRes   *geo.Result
	acqErr   error
	emitted  bool
	emitErr  error
	record   *models.AttendanceRecord
}

// Status is a point-in-time snapshot of a session for caller feedback.
type Status struct {
	SessionID string                   `json:"session_id"`
	Mode      Mode                     `json:"mode"`
	Phase     schedule.Phase           `json:"phase"`
	Sampling  position.Progress        `json:"sampling"`
	Estimate  *geo.Estimate            `json:"estimate,omitempty"`
	Geofence  *geo.Result              `json:"geofence,omitempty"`
	Biometric biometric.Outcome        `json:"biometric"`
	Emitted   bool                     `json:"emitted"`
	Record    *models.AttendanceRecord `json:"record,omitempty"`
	Rejection error                    `json:"-"`
}

// Orchestrator owns the admission sessions of this process. Injectable with
// an explicit lifecycle so tests can run isolated instances.
type Orchestrator struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Devices  identity.Validator
	Notifier notify.Dispatcher
	Sink     EventSink
	Now      func() time.Time

	ctx      context.Context
	shutdown context.CancelFunc
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewOrchestrator(db *gorm.DB, log *logger.Logger, devices identity.Validator, notifier notify.Dispatcher, sink EventSink) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		DB:       db,
		Log:      log,
		Devices:  devices,
		Notifier: notifier,
		Sink:     sink,
		Now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		shutdown: cancel,
		sessions: make(map[string]*Session),
	}
}

// Shutdown cancels all outstanding sampling streams.
func (o *Orchestrator) Shutdown() {
	o.shutdown()
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, s := range o.sessions {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
		delete(o.sessions, id)
	}
}

// Open starts an admission session. The temporal phase gates whether an
// attempt may start at all, and the device identity gate is terminal: both
// reject here rather than lingering.
func (o *Orchestrator) Open(user models.User, asg models.Assignment, deviceToken string, mode Mode) (*Session, error) {
	phase := schedule.Resolve(asg.Window(), o.Now())
	if phase != schedule.PhaseActive {
		return nil, &PhaseError{Phase: phase}
	}
	deviceID, err := o.Devices.Validate(deviceToken)
	if err != nil {
		return nil, ErrDeviceIdentity
	}

	s := &Session{
		ID:         uuid.NewString(),
		User:       user,
		Assignment: asg,
		Mode:       mode,
		DeviceID:   deviceID,
		bio:        biometric.NewSession(user.FaceVector()),
	}
	o.startSampling(s)

	o.mu.Lock()
	o.sessions[s.ID] = s
	o.mu.Unlock()
	o.Log.Info("admission session opened",
		"session_id", s.ID, "agent", user.UserID, "assignment_id", asg.ID, "mode", string(mode))
	return s, nil
}

// Session looks up an open session by ID.
func (o *Orchestrator) Session(id string) (*Session, error) {
	return o.get(id)
}

func (o *Orchestrator) get(id string) (*Session, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close abandons a session, releasing its sampling stream.
func (o *Orchestrator) Close(id string) {
	o.mu.Lock()
	s, ok := o.sessions[id]
	delete(o.sessions, id)
	o.mu.Unlock()
	if ok {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
	}
}

// startSampling launches the collector for s. Caller must not hold s.mu.
func (o *Orchestrator) startSampling(s *Session) {
	ctx, cancel := context.WithCancel(o.ctx)
	src := position.NewPushSource()

	s.mu.Lock()
	s.cancel = cancel
	s.src = src
	s.gen++
	gen := s.gen
	s.sampling = true
	s.estimate = nil
	s.geoRes = nil
	s.acqErr = nil
	s.progress = position.Progress{}
	s.mu.Unlock()

	col := &position.Collector{OnProgress: func(p position.Progress) {
		s.mu.Lock()
		if s.gen == gen {
			s.progress = p
		}
		s.mu.Unlock()
	}}
	site := geo.Site{Lat: s.Assignment.SiteLat, Lon: s.Assignment.SiteLon, BaseRadiusM: s.Assignment.BaseRadiusM}
	go func() {
		est, err := col.Collect(ctx, src)
		s.mu.Lock()
		if s.gen != gen {
			// A newer sampling run owns the session now.
			s.mu.Unlock()
			return
		}
		s.sampling = false
		if err != nil {
			s.acqErr = err
		} else {
			s.estimate = &est
			res := geo.CheckGeofence(est, site)
			s.geoRes = &res
		}
		s.mu.Unlock()
		o.evaluate(s)
	}()
}

// PushFix feeds one raw location fix into the session's sampling stream.
func (o *Orchestrator) PushFix(id string, fix position.Fix) (position.Progress, error) {
	s, err := o.get(id)
	if err != nil {
		return position.Progress{}, err
	}
	s.mu.Lock()
	src, sampling := s.src, s.sampling
	s.mu.Unlock()
	if sampling && src != nil {
		src.Push(fix)
	}
	s.mu.Lock()
	progress := s.progress
	s.mu.Unlock()
	return progress, nil
}

// SubmitFace scores one live sample and advances the verification machine.
func (o *Orchestrator) SubmitFace(id string, sample biometric.Sample) (biometric.Outcome, error) {
	s, err := o.get(id)
	if err != nil {
		return biometric.Outcome{}, err
	}
	s.mu.Lock()
	st := s.bio.State()
	if st == biometric.StateIdle || st == biometric.StateRetrying {
		if err := s.bio.Begin(); err != nil {
			s.mu.Unlock()
			return biometric.Outcome{}, err
		}
	}
	out, err := s.bio.Submit(sample)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, biometric.ErrLocked) {
			return out, ErrBiometricLocked
		}
		return out, err
	}
	o.evaluate(s)
	switch out.State {
	case biometric.StateLocked:
		return out, ErrBiometricLocked
	case biometric.StateRetrying:
		return out, &RetryError{Score: out.Score, AttemptsLeft: out.AttemptsLeft}
	default:
		return out, nil
	}
}

// Resample restarts position acquisition after a geofence rejection or a
// terminal acquisition failure.
func (o *Orchestrator) Resample(id string) error {
	s, err := o.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.emitted {
		s.mu.Unlock()
		return ErrAlreadyEmitted
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	o.startSampling(s)
	return nil
}

// Status snapshots the session, including the currently blocking rejection.
func (o *Orchestrator) Status(id string) (Status, error) {
	s, err := o.get(id)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return o.statusLocked(s), nil
}

func (o *Orchestrator) statusLocked(s *Session) Status {
	st := Status{
		SessionID: s.ID,
		Mode:      s.Mode,
		Phase:     schedule.Resolve(s.Assignment.Window(), o.Now()),
		Sampling:  s.progress,
		Estimate:  s.estimate,
		Geofence:  s.geoRes,
		Biometric: biometric.Outcome{State: s.bio.State(), Score: s.bio.Score(), Attempts: s.bio.Attempts(), AttemptsLeft: biometric.MaxAttempts - s.bio.Attempts(), Alternate: s.bio.Alternate()},
		Emitted:   s.emitted,
		Record:    s.record,
	}
	st.Rejection = o.rejectionLocked(s, st.Phase)
	return st
}

// rejectionLocked picks the currently blocking condition, if any.
func (o *Orchestrator) rejectionLocked(s *Session, phase schedule.Phase) error {
	if s.emitted {
		return nil
	}
	if s.emitErr != nil {
		return s.emitErr
	}
	if phase != schedule.PhaseActive {
		return &PhaseError{Phase: phase}
	}
	if s.bio.State() == biometric.StateLocked {
		return ErrBiometricLocked
	}
	if s.acqErr != nil {
		return &AcquisitionError{Cause: s.acqErr}
	}
	if s.geoRes != nil && !s.geoRes.Accepted {
		return &GeofenceError{DistanceM: s.geoRes.DistanceM, ToleranceM: s.geoRes.ToleranceM}
	}
	if s.bio.State() == biometric.StateRetrying {
		return &RetryError{Score: s.bio.Score(), AttemptsLeft: biometric.MaxAttempts - s.bio.Attempts()}
	}
	return ErrPending
}

// evaluate re-checks every gate and emits the attendance event the moment all
// hold concurrently. Exactly one accept per open session.
func (o *Orchestrator) evaluate(s *Session) {
	s.mu.Lock()
	if s.emitted {
		s.mu.Unlock()
		return
	}
	phase := schedule.Resolve(s.Assignment.Window(), o.Now())
	ready := phase == schedule.PhaseActive &&
		s.geoRes != nil && s.geoRes.Accepted &&
		s.bio.State() == biometric.StateVerified &&
		s.DeviceID != ""
	if !ready {
		s.mu.Unlock()
		return
	}

	rec, err := o.emit(s)
	if err != nil {
		s.emitErr = err
		s.mu.Unlock()
		o.Log.Warn("admission emit failed", "session_id", s.ID, "err", err)
		return
	}
	s.emitted = true
	s.emitErr = nil
	s.record = rec
	if s.cancel != nil {
		s.cancel()
	}
	mode := s.Mode
	s.mu.Unlock()

	o.Log.Info("attendance accepted",
		"session_id", s.ID, "agent", s.User.UserID, "assignment_id", s.Assignment.ID,
		"mode", string(mode), "distance_m", rec.DistanceM, "tolerance_m", rec.ToleranceM)
	if o.Sink != nil {
		if mode == ModeCheckOut {
			o.Sink.CheckedOut(*rec)
		} else {
			o.Sink.CheckedIn(*rec)
		}
	}
	if o.Notifier != nil {
		evType := notify.EventCheckIn
		at := rec.CheckInAt
		if mode == ModeCheckOut && rec.CheckOutAt != nil {
			evType = notify.EventCheckOut
			at = *rec.CheckOutAt
		}
		o.Notifier.Dispatch(notify.Event{
			Type:         evType,
			AgentID:      s.User.UserID,
			AssignmentID: s.Assignment.ID,
			At:           at,
		})
	}
}

// emit writes the attendance change atomically. Caller holds s.mu.
func (o *Orchestrator) emit(s *Session) (*models.AttendanceRecord, error) {
	now := o.Now()
	if s.Mode == ModeCheckOut {
		return o.emitCheckOut(s, now)
	}
	rec := models.AttendanceRecord{
		UserIDRef:       s.User.ID,
		AssignmentIDRef: s.Assignment.ID,
		CheckInAt:       now,
		DistanceM:       s.geoRes.DistanceM,
		ToleranceM:      s.geoRes.ToleranceM,
		BiometricScore:  s.bio.Score(),
		AltVerification: s.bio.Alternate(),
		DeviceID:        s.DeviceID,
	}
	err := o.DB.Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.AttendanceRecord{}).
			Where("user_id_ref = ? AND assignment_id_ref = ? AND check_out_at IS NULL", s.User.ID, s.Assignment.ID).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrAlreadyEmitted
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (o *Orchestrator) emitCheckOut(s *Session, now time.Time) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	err := o.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id_ref = ? AND assignment_id_ref = ?", s.User.ID, s.Assignment.ID).
			Order("check_in_at DESC").First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoOpenRecord
		}
		if err != nil {
			return err
		}
		if rec.CheckOutAt != nil {
			return ErrAlreadyCheckedOut
		}
		res := tx.Model(&models.AttendanceRecord{}).
			Where("id = ? AND check_out_at IS NULL", rec.ID).
			Update("check_out_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyCheckedOut
		}
		rec.CheckOutAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
