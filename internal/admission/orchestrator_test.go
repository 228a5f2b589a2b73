package admission

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hzakaria/guardpoint_backend/internal/biometric"
	"github.com/hzakaria/guardpoint_backend/internal/logger"
	"github.com/hzakaria/guardpoint_backend/internal/models"
	"github.com/hzakaria/guardpoint_backend/internal/notify"
	"github.com/hzakaria/guardpoint_backend/internal/position"
	"github.com/hzakaria/guardpoint_backend/internal/schedule"
)

const (
	siteLat = 33.5731
	siteLon = -7.5898
)

var (
	refVec      = []float64{1, 0, 0, 0}
	matchVec    = []float64{1, 0, 0, 0}
	mismatchVec = []float64{0, 1, 0, 0}
)

type stubValidator struct {
	id  string
	err error
}

func (v stubValidator) Validate(token string) (string, error) {
	return v.id, v.err
}

type stubSink struct {
	mu        sync.Mutex
	checkins  []models.AttendanceRecord
	checkouts []models.AttendanceRecord
}

func (s *stubSink) CheckedIn(rec models.AttendanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkins = append(s.checkins, rec)
}

func (s *stubSink) CheckedOut(rec models.AttendanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkouts = append(s.checkouts, rec)
}

func (s *stubSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.checkins), len(s.checkouts)
}

type stubNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *stubNotifier) Dispatch(ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Assignment{},
		&models.AttendanceRecord{}, &models.PositionReading{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testFixture(t *testing.T, db *gorm.DB, faceRef []byte) (models.User, models.Assignment) {
	t.Helper()
	user := models.User{
		UserID: uuid.NewString(), FullName: "Test Agent",
		Email: uuid.NewString() + "@example.com", Role: "agent", Active: true,
		FaceRef: faceRef,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	now := time.Now().UTC()
	asg := models.Assignment{
		Title: "Night Watch", SiteLat: siteLat, SiteLon: siteLon, BaseRadiusM: 100,
		StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
		Phase: string(schedule.PhaseActive),
	}
	if err := db.Create(&asg).Error; err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return user, asg
}

func testOrchestrator(t *testing.T, db *gorm.DB) (*Orchestrator, *stubSink, *stubNotifier) {
	t.Helper()
	sink := &stubSink{}
	notifier := &stubNotifier{}
	orch := NewOrchestrator(db, logger.Nop(), stubValidator{id: "device-1"}, notifier, sink)
	t.Cleanup(orch.Shutdown)
	return orch, sink, notifier
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func siteFix() position.Fix {
	return position.Fix{Lat: siteLat, Lon: siteLon, AccuracyM: 30, CapturedAt: time.Now().UTC()}
}

func farFix() position.Fix {
	return position.Fix{Lat: siteLat + 0.05, Lon: siteLon, AccuracyM: 30, CapturedAt: time.Now().UTC()}
}

func pushFixes(t *testing.T, orch *Orchestrator, id string, fx position.Fix, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := orch.PushFix(id, fx); err != nil {
			t.Fatalf("push fix: %v", err)
		}
	}
}

func refJSON() []byte { return []byte("[1,0,0,0]") }

func TestCheckInEmitsExactlyOnce(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, sink, notifier := testOrchestrator(t, db)

	s, err := orch.Open(user, asg, "token", ModeCheckIn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pushFixes(t, orch, s.ID, siteFix(), 3)
	waitFor(t, "geofence accept", func() bool {
		st, _ := orch.Status(s.ID)
		return st.Geofence != nil && st.Geofence.Accepted
	})

	out, err := orch.SubmitFace(s.ID, biometric.Sample{Vector: matchVec, CapturedAt: time.Now()})
	if err != nil {
		t.Fatalf("SubmitFace: %v", err)
	}
	if out.State != biometric.StateVerified {
		t.Fatalf("verification state = %s", out.State)
	}

	waitFor(t, "emission", func() bool {
		st, _ := orch.Status(s.ID)
		return st.Emitted
	})

	var count int64
	db.Model(&models.AttendanceRecord{}).Count(&count)
	if count != 1 {
		t.Fatalf("attendance records = %d, want 1", count)
	}
	var rec models.AttendanceRecord
	db.First(&rec)
	if rec.UserIDRef != user.ID || rec.AssignmentIDRef != asg.ID {
		t.Fatalf("record keys wrong: %+v", rec)
	}
	if rec.DeviceID != "device-1" {
		t.Fatalf("device id = %q", rec.DeviceID)
	}
	if rec.ToleranceM != 115 { // 100 + floor(30*0.5)
		t.Fatalf("tolerance = %f, want 115", rec.ToleranceM)
	}
	if rec.BiometricScore < biometric.MinScore {
		t.Fatalf("biometric score not captured: %f", rec.BiometricScore)
	}
	if rec.CheckOutAt != nil {
		t.Fatalf("fresh check-in must be open")
	}

	if ins, outs := sink.counts(); ins != 1 || outs != 0 {
		t.Fatalf("sink events = %d/%d, want 1/0", ins, outs)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 1 || notifier.events[0].Type != notify.EventCheckIn {
		t.Fatalf("notifier events: %+v", notifier.events)
	}
}

func TestArrivalOrderIndependence(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, _, _ := testOrchestrator(t, db)

	s, err := orch.Open(user, asg, "token", ModeCheckIn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Biometric verifies before any position settles.
	if _, err := orch.SubmitFace(s.ID, biometric.Sample{Vector: matchVec}); err != nil {
		t.Fatalf("SubmitFace: %v", err)
	}
	st, _ := orch.Status(s.ID)
	if st.Emitted {
		t.Fatalf("must not emit before geofence accepts")
	}
	pushFixes(t, orch, s.ID, siteFix(), 3)
	waitFor(t, "emission", func() bool {
		st, _ := orch.Status(s.ID)
		return st.Emitted
	})
	var count int64
	db.Model(&models.AttendanceRecord{}).Count(&count)
	if count != 1 {
		t.Fatalf("attendance records = %d, want 1", count)
	}
}

func TestOscillatingInputsSingleEmit(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, sink, _ := testOrchestrator(t, db)

	s, err := orch.Open(user, asg, "token", ModeCheckIn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// fail, fail, then pass on the biometric stream while the geofence passes.
	for _, vec := range [][]float64{mismatchVec, mismatchVec} {
		out, err := orch.SubmitFace(s.ID, biometric.Sample{Vector: vec})
		var retry *RetryError
		if !errors.As(err, &retry) {
			t.Fatalf("expected RetryError, got %v (state %s)", err, out.State)
		}
	}
	pushFixes(t, orch, s.ID, siteFix(), 3)
	waitFor(t, "geofence accept", func() bool {
		st, _ := orch.Status(s.ID)
		return st.Geofence != nil && st.Geofence.Accepted
	})
	if _, err := orch.SubmitFace(s.ID, biometric.Sample{Vector: matchVec}); err != nil {
		t.Fatalf("final SubmitFace: %v", err)
	}
	waitFor(t, "emission", func() bool {
		st, _ := orch.Status(s.ID)
		return st.Emitted
	})

	// Late oscillation: further inputs must never re-emit.
	if err := orch.Resample(s.ID); !errors.Is(err, ErrAlreadyEmitted) {
		t.Fatalf("Resample after emit = %v, want ErrAlreadyEmitted", err)
	}
	var count int64
	db.Model(&models.AttendanceRecord{}).Count(&count)
	if count != 1 {
		t.Fatalf("attendance records = %d, want 1", count)
	}
	if ins, _ := sink.counts(); ins != 1 {
		t.Fatalf("sink check-ins = %d, want 1", ins)
	}
}

func TestSecondSessionCannotDoubleCheckIn(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, _, _ := testOrchestrator(t, db)

	for i := 0; i < 2; i++ {
		s, err := orch.Open(user, asg, "token", ModeCheckIn)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		pushFixes(t, orch, s.ID, siteFix(), 3)
		waitFor(t, "geofence accept", func() bool {
			st, _ := orch.Status(s.ID)
			return st.Geofence != nil && st.Geofence.Accepted
		})
		if _, err := orch.SubmitFace(s.ID, biometric.Sample{Vector: matchVec}); err != nil {
			t.Fatalf("SubmitFace #%d: %v", i+1, err)
		}
		waitFor(t, "evaluation outcome", func() bool {
			st, _ := orch.Status(s.ID)
			return st.Emitted || errors.Is(st.Rejection, ErrAlreadyEmitted)
		})
	}
	var count int64
	db.Model(&models.AttendanceRecord{}).Count(&count)
	if count != 1 {
		t.Fatalf("open records = %d, want 1 despite second session", count)
	}
}

func TestLockoutBlocksAdmission(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, _, _ := testOrchestrator(t, db)

	s, err := orch.Open(user, asg, "token", ModeCheckIn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pushFixes(t, orch, s.ID, siteFix(), 3)
	for i := 0; i < biometric.MaxAttempts; i++ {
		_, err = orch.SubmitFace(s.ID, biometric.Sample{Vector: mismatchVec})
	}
	if !errors.Is(err, ErrBiometricLocked) {
		t.Fatalf("third failure = %v, want ErrBiometricLocked", err)
	}
	// The lock is sticky: even a perfect sample cannot verify now.
	if _, err := orch.SubmitFace(s.ID, biometric.Sample{Vector: matchVec}); !errors.Is(err, ErrBiometricLocked) {
		t.Fatalf("post-lock submit = %v, want ErrBiometricLocked", err)
	}
	st, _ := orch.Status(s.ID)
	if !errors.Is(st.Rejection, ErrBiometricLocked) {
		t.Fatalf("status rejection = %v, want locked", st.Rejection)
	}
	var count int64
	db.Model(&models.AttendanceRecord{}).Count(&count)
	if count != 0 {
		t.Fatalf("locked session produced %d records", count)
	}
}

func TestGeofenceRejectionThenResample(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, _, _ := testOrchestrator(t, db)

	s, err := orch.Open(user, asg, "token", ModeCheckIn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pushFixes(t, orch, s.ID, farFix(), 3)
	waitFor(t, "geofence reject", func() bool {
		st, _ := orch.Status(s.ID)
		var geoErr *GeofenceError
		return errors.As(st.Rejection, &geoErr)
	})
	st, _ := orch.Status(s.ID)
	var geoErr *GeofenceError
	errors.As(st.Rejection, &geoErr)
	if geoErr.DistanceM <= geoErr.ToleranceM {
		t.Fatalf("rejection detail inconsistent: %+v", geoErr)
	}

	if err := orch.Resample(s.ID); err != nil {
		t.Fatalf("Resample: %v", err)
	}
	pushFixes(t, orch, s.ID, siteFix(), 3)
	waitFor(t, "geofence accept after resample", func() bool {
		st, _ := orch.Status(s.ID)
		return st.Geofence != nil && st.Geofence.Accepted
	})
}

func TestOpenRejectsOutsideActivePhase(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, _, _ := testOrchestrator(t, db)

	future := asg
	future.ID = ""
	future.StartsAt = time.Now().UTC().Add(3 * time.Hour)
	future.EndsAt = time.Now().UTC().Add(5 * time.Hour)
	future.Phase = string(schedule.PhaseScheduled)
	if err := db.Create(&future).Error; err != nil {
		t.Fatalf("create future assignment: %v", err)
	}

	_, err := orch.Open(user, future, "token", ModeCheckIn)
	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) || phaseErr.Phase != schedule.PhaseScheduled {
		t.Fatalf("Open on future window = %v", err)
	}

	cancelled := asg
	cancelled.ID = ""
	cancelled.Phase = string(schedule.PhaseCancelled)
	if err := db.Create(&cancelled).Error; err != nil {
		t.Fatalf("create cancelled assignment: %v", err)
	}
	_, err = orch.Open(user, cancelled, "token", ModeCheckIn)
	if !errors.As(err, &phaseErr) || phaseErr.Phase != schedule.PhaseCancelled {
		t.Fatalf("Open on cancelled window = %v", err)
	}
}

func TestOpenRejectsInvalidDevice(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	sink := &stubSink{}
	orch := NewOrchestrator(db, logger.Nop(), stubValidator{err: errors.New("bad token")}, &stubNotifier{}, sink)
	t.Cleanup(orch.Shutdown)

	if _, err := orch.Open(user, asg, "token", ModeCheckIn); !errors.Is(err, ErrDeviceIdentity) {
		t.Fatalf("Open with bad device = %v, want ErrDeviceIdentity", err)
	}
}

func TestAlternateVerificationFlagged(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, nil) // no enrolled reference
	orch, _, _ := testOrchestrator(t, db)

	s, err := orch.Open(user, asg, "token", ModeCheckIn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pushFixes(t, orch, s.ID, siteFix(), 3)
	out, err := orch.SubmitFace(s.ID, biometric.Sample{Vector: matchVec})
	if err != nil {
		t.Fatalf("SubmitFace: %v", err)
	}
	if !out.Alternate {
		t.Fatalf("expected alternate verification outcome")
	}
	waitFor(t, "emission", func() bool {
		st, _ := orch.Status(s.ID)
		return st.Emitted
	})
	var rec models.AttendanceRecord
	db.First(&rec)
	if !rec.AltVerification {
		t.Fatalf("alternate verification not flagged on record")
	}
}

func runCheckout(t *testing.T, orch *Orchestrator, user models.User, asg models.Assignment) Status {
	t.Helper()
	s, err := orch.Open(user, asg, "token", ModeCheckOut)
	if err != nil {
		t.Fatalf("Open checkout: %v", err)
	}
	pushFixes(t, orch, s.ID, siteFix(), 3)
	waitFor(t, "geofence accept", func() bool {
		st, _ := orch.Status(s.ID)
		return st.Geofence != nil && st.Geofence.Accepted
	})
	if _, err := orch.SubmitFace(s.ID, biometric.Sample{Vector: matchVec}); err != nil {
		t.Fatalf("SubmitFace checkout: %v", err)
	}
	waitFor(t, "checkout outcome", func() bool {
		st, _ := orch.Status(s.ID)
		return st.Emitted || (st.Rejection != nil && !errors.Is(st.Rejection, ErrPending))
	})
	st, _ := orch.Status(s.ID)
	return st
}

func TestCheckOutClosesOpenRecord(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, sink, _ := testOrchestrator(t, db)

	checkIn := time.Now().UTC().Add(-30 * time.Minute)
	rec := models.AttendanceRecord{
		UserIDRef: user.ID, AssignmentIDRef: asg.ID, CheckInAt: checkIn,
		DistanceM: 10, ToleranceM: 115, DeviceID: "device-1",
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed open record: %v", err)
	}

	st := runCheckout(t, orch, user, asg)
	if !st.Emitted {
		t.Fatalf("checkout not emitted: rejection %v", st.Rejection)
	}
	var updated models.AttendanceRecord
	db.First(&updated, rec.ID)
	if updated.CheckOutAt == nil {
		t.Fatalf("check_out_at not set")
	}
	if !updated.CheckInAt.Before(*updated.CheckOutAt) {
		t.Fatalf("check-in %v must precede check-out %v", updated.CheckInAt, updated.CheckOutAt)
	}
	if _, outs := sink.counts(); outs != 1 {
		t.Fatalf("sink checkouts = %d, want 1", outs)
	}
}

func TestCheckOutWithoutOpenRecord(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, _, _ := testOrchestrator(t, db)

	st := runCheckout(t, orch, user, asg)
	if st.Emitted {
		t.Fatalf("checkout emitted with no open record")
	}
	if !errors.Is(st.Rejection, ErrNoOpenRecord) {
		t.Fatalf("rejection = %v, want ErrNoOpenRecord", st.Rejection)
	}
}

func TestDoubleCheckOutRejected(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, _, _ := testOrchestrator(t, db)

	checkIn := time.Now().UTC().Add(-30 * time.Minute)
	checkOut := time.Now().UTC().Add(-5 * time.Minute)
	rec := models.AttendanceRecord{
		UserIDRef: user.ID, AssignmentIDRef: asg.ID,
		CheckInAt: checkIn, CheckOutAt: &checkOut,
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed closed record: %v", err)
	}

	st := runCheckout(t, orch, user, asg)
	if st.Emitted {
		t.Fatalf("second checkout emitted")
	}
	if !errors.Is(st.Rejection, ErrAlreadyCheckedOut) {
		t.Fatalf("rejection = %v, want ErrAlreadyCheckedOut", st.Rejection)
	}
}

func TestCloseReleasesSession(t *testing.T) {
	db := testDB(t)
	user, asg := testFixture(t, db, refJSON())
	orch, _, _ := testOrchestrator(t, db)

	s, err := orch.Open(user, asg, "token", ModeCheckIn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	orch.Close(s.ID)
	if _, err := orch.Status(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Status after close = %v, want ErrSessionNotFound", err)
	}
}
