package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hzakaria/guardpoint_backend/internal/admission"
	"github.com/hzakaria/guardpoint_backend/internal/biometric"
	"github.com/hzakaria/guardpoint_backend/internal/models"
	"github.com/hzakaria/guardpoint_backend/internal/position"
)

type AttendanceController struct {
	DB           *gorm.DB
	Orchestrator *admission.Orchestrator
}

type openSessionRequest struct {
	AssignmentID string `json:"assignment_id" binding:"required"`
	DeviceToken  string `json:"device_token" binding:"required"`
	Mode         string `json:"mode"` // checkin (default) | checkout
}

func (tc *AttendanceController) OpenSession(c *gin.Context) {
	uVal, _ := c.Get("user")
	user := uVal.(models.User)

	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode := admission.ModeCheckIn
	if req.Mode == string(admission.ModeCheckOut) {
		mode = admission.ModeCheckOut
	}

	var asg models.Assignment
	if err := tc.DB.Where("id = ?", req.AssignmentID).First(&asg).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
		return
	}
	var membership models.AssignmentAgent
	if err := tc.DB.Where("user_id_ref = ? AND assignment_id_ref = ?", user.ID, asg.ID).
		First(&membership).Error; err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "not assigned to this assignment"})
		return
	}

	s, err := tc.Orchestrator.Open(user, asg, req.DeviceToken, mode)
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, admission.ErrDeviceIdentity) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, rejectionPayload(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": s.ID, "mode": s.Mode})
}

func (tc *AttendanceController) session(c *gin.Context) (*admission.Session, bool) {
	uVal, _ := c.Get("user")
	user := uVal.(models.User)
	s, err := tc.Orchestrator.Session(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	if s.User.ID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return nil, false
	}
	return s, true
}

type fixRequest struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AccuracyM  float64   `json:"accuracy_m"`
	CapturedAt time.Time `json:"captured_at"`
}

func (tc *AttendanceController) PushFix(c *gin.Context) {
	s, ok := tc.session(c)
	if !ok {
		return
	}
	var req fixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	at := req.CapturedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	progress, err := tc.Orchestrator.PushFix(s.ID, position.Fix{
		Lat: req.Lat, Lon: req.Lon, AccuracyM: req.AccuracyM, CapturedAt: at,
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	tc.respondStatus(c, s.ID, gin.H{"progress": progress})
}

type faceRequest struct {
	Embedding []float64 `json:"embedding"`
}

func (tc *AttendanceController) SubmitFace(c *gin.Context) {
	s, ok := tc.session(c)
	if !ok {
		return
	}
	var req faceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := tc.Orchestrator.SubmitFace(s.ID, biometric.Sample{
		Vector:     req.Embedding,
		CapturedAt: time.Now().UTC(),
	})
	if err != nil && !isBiometricFeedback(err) {
		c.JSON(http.StatusConflict, rejectionPayload(err))
		return
	}
	tc.respondStatus(c, s.ID, gin.H{"verification": out})
}

// isBiometricFeedback distinguishes scores the client should keep acting on
// from hard failures.
func isBiometricFeedback(err error) bool {
	var retry *admission.RetryError
	return errors.As(err, &retry) || errors.Is(err, admission.ErrBiometricLocked)
}

func (tc *AttendanceController) Resample(c *gin.Context) {
	s, ok := tc.session(c)
	if !ok {
		return
	}
	if err := tc.Orchestrator.Resample(s.ID); err != nil {
		c.JSON(http.StatusConflict, rejectionPayload(err))
		return
	}
	tc.respondStatus(c, s.ID, gin.H{})
}

func (tc *AttendanceController) Status(c *gin.Context) {
	s, ok := tc.session(c)
	if !ok {
		return
	}
	tc.respondStatus(c, s.ID, gin.H{})
}

func (tc *AttendanceController) CloseSession(c *gin.Context) {
	s, ok := tc.session(c)
	if !ok {
		return
	}
	tc.Orchestrator.Close(s.ID)
	c.JSON(http.StatusOK, gin.H{"message": "session closed"})
}

func (tc *AttendanceController) respondStatus(c *gin.Context, sessionID string, extra gin.H) {
	st, err := tc.Orchestrator.Status(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	body := gin.H{"status": st}
	if st.Rejection != nil && !errors.Is(st.Rejection, admission.ErrPending) {
		body["rejection"] = rejectionPayload(st.Rejection)
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// rejectionPayload maps the admission taxonomy onto structured JSON with
// enough detail for actionable client guidance.
func rejectionPayload(err error) gin.H {
	var phaseErr *admission.PhaseError
	var geoErr *admission.GeofenceError
	var retryErr *admission.RetryError
	var acqErr *admission.AcquisitionError
	switch {
	case errors.As(err, &phaseErr):
		return gin.H{"code": "phase_rejected", "phase": phaseErr.Phase, "error": err.Error()}
	case errors.As(err, &geoErr):
		return gin.H{"code": "geofence_rejected", "distance_m": geoErr.DistanceM, "tolerance_m": geoErr.ToleranceM, "error": err.Error()}
	case errors.As(err, &retryErr):
		return gin.H{"code": "biometric_retrying", "score": retryErr.Score, "attempts_left": retryErr.AttemptsLeft, "error": err.Error()}
	case errors.Is(err, admission.ErrBiometricLocked):
		return gin.H{"code": "biometric_locked", "error": "re-authenticate"}
	case errors.As(err, &acqErr):
		return gin.H{"code": "position_failed", "cause": acquisitionCause(acqErr.Cause), "error": err.Error()}
	case errors.Is(err, admission.ErrDeviceIdentity):
		return gin.H{"code": "device_invalid", "error": err.Error()}
	case errors.Is(err, admission.ErrNoOpenRecord):
		return gin.H{"code": "no_open_record", "error": err.Error()}
	case errors.Is(err, admission.ErrAlreadyCheckedOut):
		return gin.H{"code": "already_checked_out", "error": err.Error()}
	case errors.Is(err, admission.ErrAlreadyEmitted):
		return gin.H{"code": "already_emitted", "error": err.Error()}
	default:
		return gin.H{"code": "rejected", "error": err.Error()}
	}
}

func acquisitionCause(err error) string {
	switch {
	case errors.Is(err, position.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, position.ErrSourceUnavailable):
		return "unavailable"
	case errors.Is(err, position.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
