package config

import (
	"os"
)

type Config struct {
	Port       string
	Env        string // dev | prod, selects logger mode
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	JWTSecret  string
	JWTExpiresIn string // minutes
	// DeviceJWTSecret signs device/session identity tokens.
	DeviceJWTSecret string
	AdminEmail    string
	AdminPassword string
	AdminFullName string
	// SweepIntervalSec drives the assignment phase sweeper.
	SweepIntervalSec string
}

func Load() *Config {
	return &Config{
		Port:       getenv("PORT", "8080"),
		Env:        getenv("APP_ENV", "dev"),
		DBHost:     getenv("DB_HOST", "localhost"),
		DBPort:     getenv("DB_PORT", "5432"),
		DBUser:     getenv("DB_USER", "postgres"),
		DBPassword: getenv("DB_PASSWORD", "postgres"),
		DBName:     getenv("DB_NAME", "guardpoint_db"),
		DBSSLMode:  getenv("DB_SSLMODE", "disable"),
		JWTSecret:  getenv("JWT_SECRET", "supersecret_change_me"),
		JWTExpiresIn: getenv("JWT_EXPIRES_IN", "60"),
		DeviceJWTSecret: getenv("DEVICE_JWT_SECRET", getenv("JWT_SECRET", "supersecret_change_me")),
		AdminEmail:    getenv("ADMIN_EMAIL", "admin@example.com"),
		AdminPassword: getenv("ADMIN_PASSWORD", "admin123"),
		AdminFullName: getenv("ADMIN_FULL_NAME", "Administrator"),
		SweepIntervalSec: getenv("SWEEP_INTERVAL_SEC", "60"),
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
