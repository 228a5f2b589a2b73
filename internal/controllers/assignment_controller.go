package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hzakaria/guardpoint_backend/internal/models"
	"github.com/hzakaria/guardpoint_backend/internal/schedule"
)

type AssignmentController struct {
	DB *gorm.DB
}

type createAssignmentRequest struct {
	Title          string    `json:"title" binding:"required"`
	SiteLat        float64   `json:"site_lat" binding:"required"`
	SiteLon        float64   `json:"site_lon" binding:"required"`
	BaseRadiusM    float64   `json:"base_radius_m" binding:"required"`
	StartsAt       time.Time `json:"starts_at" binding:"required"`
	EndsAt         time.Time `json:"ends_at" binding:"required"`
	EarlyBufferMin int       `json:"early_buffer_min"`
}

func (ac *AssignmentController) Create(c *gin.Context) {
	var req createAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ends_at must be after starts_at"})
		return
	}
	if req.EarlyBufferMin < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "early_buffer_min must be >= 0"})
		return
	}
	if req.BaseRadiusM <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base_radius_m must be positive"})
		return
	}
	asg := models.Assignment{
		Title:          req.Title,
		SiteLat:        req.SiteLat,
		SiteLon:        req.SiteLon,
		BaseRadiusM:    req.BaseRadiusM,
		StartsAt:       req.StartsAt.UTC(),
		EndsAt:         req.EndsAt.UTC(),
		EarlyBufferMin: req.EarlyBufferMin,
	}
	if err := ac.DB.Create(&asg).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, asg)
}

func (ac *AssignmentController) List(c *gin.Context) {
	var out []models.Assignment
	q := ac.DB.Order("starts_at DESC")
	if phase := c.Query("phase"); phase != "" {
		q = q.Where("phase = ?", phase)
	}
	if err := q.Find(&out).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (ac *AssignmentController) Get(c *gin.Context) {
	var asg models.Assignment
	if err := ac.DB.Where("id = ?", c.Param("id")).First(&asg).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assignment":     asg,
		"resolved_phase": schedule.Resolve(asg.Window(), time.Now().UTC()),
	})
}

type pinPhaseRequest struct {
	Phase string `json:"phase" binding:"required"`
}

// PinPhase applies one of the manual terminal overrides. Once pinned the
// phase is permanent under any clock.
func (ac *AssignmentController) PinPhase(c *gin.Context) {
	var req pinPhaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := schedule.Phase(req.Phase)
	if !p.Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phase must be cancelled or terminated"})
		return
	}
	var asg models.Assignment
	if err := ac.DB.Where("id = ?", c.Param("id")).First(&asg).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
		return
	}
	if schedule.Phase(asg.Phase).Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "phase already pinned", "phase": asg.Phase})
		return
	}
	asg.Phase = string(p)
	if err := ac.DB.Save(&asg).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "phase pinned", "phase": asg.Phase})
}

type memberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (ac *AssignmentController) userByRole(userID, role string) (*models.User, error) {
	var user models.User
	if err := ac.DB.Where("user_id = ? AND role = ?", userID, role).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (ac *AssignmentController) AssignAgent(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := ac.userByRole(req.UserID, "agent")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	m := models.AssignmentAgent{UserIDRef: user.ID, AssignmentIDRef: c.Param("id")}
	if err := ac.DB.Create(&m).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "agent assigned"})
}

func (ac *AssignmentController) AssignSupervisor(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := ac.userByRole(req.UserID, "supervisor")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "supervisor not found"})
		return
	}
	m := models.AssignmentSupervisor{UserIDRef: user.ID, AssignmentIDRef: c.Param("id")}
	if err := ac.DB.Create(&m).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "supervisor assigned"})
}
