package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hzakaria/guardpoint_backend/internal/admission"
	"github.com/hzakaria/guardpoint_backend/internal/config"
	"github.com/hzakaria/guardpoint_backend/internal/controllers"
	"github.com/hzakaria/guardpoint_backend/internal/middleware"
	"github.com/hzakaria/guardpoint_backend/internal/ws"
)

func Register(r *gin.Engine, db *gorm.DB, cfg *config.Config, orch *admission.Orchestrator, hub *ws.PresenceHub) {
	expiresMins, err := time.ParseDuration(cfg.JWTExpiresIn + "m")
	if err != nil || expiresMins == 0 {
		expiresMins = 60 * time.Minute
	}
	authCtrl := &controllers.AuthController{DB: db, JWTSecret: cfg.JWTSecret, ExpiresIn: expiresMins}
	asgCtrl := &controllers.AssignmentController{DB: db}
	attCtrl := &controllers.AttendanceController{DB: db, Orchestrator: orch}

	// Public
	auth := r.Group("/api/v1/auth")
	{
		auth.POST("/login", authCtrl.Login)
	}

	// Protected
	authMW := middleware.AuthMiddleware(db, middleware.AuthConfig{JWTSecret: cfg.JWTSecret})
	api := r.Group("/api/v1", authMW)
	{
		api.GET("/auth/me", authCtrl.Me)

		// Admin-only
		admin := api.Group("/admin", middleware.RequireRoles("admin"))
		{
			admin.POST("/users", authCtrl.Register)
			admin.POST("/users/:user_id/face", authCtrl.EnrollFace)

			admin.POST("/assignments", asgCtrl.Create)
			admin.GET("/assignments", asgCtrl.List)
			admin.GET("/assignments/:id", asgCtrl.Get)
			admin.POST("/assignments/:id/phase", asgCtrl.PinPhase)
			admin.POST("/assignments/:id/agents", asgCtrl.AssignAgent)
			admin.POST("/assignments/:id/supervisors", asgCtrl.AssignSupervisor)
		}

		// Agent admission flow
		attendance := api.Group("/attendance", middleware.RequireRoles("agent"))
		{
			attendance.POST("/sessions", attCtrl.OpenSession)
			attendance.GET("/sessions/:id", attCtrl.Status)
			attendance.POST("/sessions/:id/fixes", attCtrl.PushFix)
			attendance.POST("/sessions/:id/face", attCtrl.SubmitFace)
			attendance.POST("/sessions/:id/resample", attCtrl.Resample)
			attendance.DELETE("/sessions/:id", attCtrl.CloseSession)
		}

		// Realtime
		api.GET("/ws/presence", ws.ObserverHandler(hub))
		api.GET("/ws/feed", ws.AgentFeedHandler(hub))
	}
}
