package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	GRPC     GRPCConfig
	Auth     AuthConfig
	Dispatch DispatchConfig
}

// DatabaseConfig contains database-related settings.
type DatabaseConfig struct {
	Path string // SQLite database file path
}

// GRPCConfig contains gRPC server settings.
type GRPCConfig struct {
	Address string // gRPC server listen address (e.g., ":50051")
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	JWTSecret string // JWT signing secret
}

// DispatchConfig contains broadcast timing and search knobs. The defaults
// mirror production behavior: five candidates inside 10 km, a 15 second
// priority window inside a 3 minute overall budget, and up to three delivery
// re-broadcast rounds separated by a 3 minute cooldown.
type DispatchConfig struct {
	BaseRadiusKm        float64
	MaxCandidates       int
	PriorityWindowSec   int
	OverallWindowSec    int
	RebroadcastCooldown time.Duration
	MaxRounds           int
	SweepIntervalSec    int
	PollIntervalSec     int
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg, err := loadCommon()
	if err != nil {
		return nil, err
	}
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")

	// Validate critical settings
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set; required for production")
	}
	return cfg, nil
}

// LoadWithDefaults is like Load but uses a safe default for JWT_SECRET in development.
// WARNING: Only use in development! Use Load() in production.
func LoadWithDefaults() (*Config, error) {
	cfg, err := loadCommon()
	if err != nil {
		return nil, err
	}
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "dev-secret-change-me")
	return cfg, nil
}

func loadCommon() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "dispatch.db"),
		},
		GRPC: GRPCConfig{
			Address: getEnv("GRPC_ADDRESS", ":50051"),
		},
	}

	var err error
	d := &cfg.Dispatch
	if d.MaxCandidates, err = getEnvInt("DISPATCH_MAX_CANDIDATES", 5); err != nil {
		return nil, err
	}
	if d.PriorityWindowSec, err = getEnvInt("DISPATCH_PRIORITY_WINDOW_SEC", 15); err != nil {
		return nil, err
	}
	if d.OverallWindowSec, err = getEnvInt("DISPATCH_OVERALL_WINDOW_SEC", 180); err != nil {
		return nil, err
	}
	if d.MaxRounds, err = getEnvInt("DISPATCH_MAX_ROUNDS", 3); err != nil {
		return nil, err
	}
	if d.SweepIntervalSec, err = getEnvInt("DISPATCH_SWEEP_INTERVAL_SEC", 30); err != nil {
		return nil, err
	}
	if d.PollIntervalSec, err = getEnvInt("DISPATCH_POLL_INTERVAL_SEC", 2); err != nil {
		return nil, err
	}
	cooldownSec, err := getEnvInt("DISPATCH_REBROADCAST_COOLDOWN_SEC", 180)
	if err != nil {
		return nil, err
	}
	d.RebroadcastCooldown = time.Duration(cooldownSec) * time.Second
	radius, err := getEnvFloat("DISPATCH_BASE_RADIUS_KM", 10)
	if err != nil {
		return nil, err
	}
	d.BaseRadiusKm = radius
	return cfg, nil
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

// getEnvInt retrieves an environment variable as an integer with a default fallback.
func getEnvInt(key string, defaultVal int) (int, error) {
	if value, exists := os.LookupEnv(key); exists {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return intVal, nil
	}
	return defaultVal, nil
}

// getEnvFloat retrieves an environment variable as a float with a default fallback.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	if value, exists := os.LookupEnv(key); exists {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %w", key, err)
		}
		return f, nil
	}
	return defaultVal, nil
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{DB: %s, gRPC: %s, Auth: *** (masked) ***, Dispatch: %+v}",
		c.Database.Path, c.GRPC.Address, c.Dispatch)
}
