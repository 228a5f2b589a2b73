package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	"github.com/hzakaria/guardpoint_backend/internal/admission"
	"github.com/hzakaria/guardpoint_backend/internal/config"
	"github.com/hzakaria/guardpoint_backend/internal/database"
	"github.com/hzakaria/guardpoint_backend/internal/identity"
	"github.com/hzakaria/guardpoint_backend/internal/logger"
	"github.com/hzakaria/guardpoint_backend/internal/notify"
	"github.com/hzakaria/guardpoint_backend/internal/routes"
	"github.com/hzakaria/guardpoint_backend/internal/schedule"
	"github.com/hzakaria/guardpoint_backend/internal/ws"
)

func main() {
	// Load .env (non-fatal if missing in production)
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("database connection failed", "err", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatal("database migration failed", "err", err)
	}

	if err := database.SeedAdmin(db, cfg); err != nil {
		log.Fatal("admin seed failed", "err", err)
	}

	hub := ws.NewPresenceHub(db, log)
	hub.Start()
	defer hub.Stop()

	orch := admission.NewOrchestrator(
		db, log,
		&identity.JWTValidator{Secret: cfg.DeviceJWTSecret},
		&notify.LogDispatcher{Log: log},
		hub,
	)
	defer orch.Shutdown()

	sweepSec, err := strconv.Atoi(cfg.SweepIntervalSec)
	if err != nil || sweepSec <= 0 {
		sweepSec = 60
	}
	sweeper := schedule.NewSweeper(db, log, time.Duration(sweepSec)*time.Second)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	r := gin.Default()
	routes.Register(r, db, cfg, orch, hub)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}
