// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Solver names accepted by FRONTIER_SOLVER.
const (
	SolverProjected = "projected"
	SolverPenalty   = "penalty"
)

// Config holds application configuration
type Config struct {
	DataDir        string // Directory for the result cache database (always absolute)
	LogLevel       string
	Port           int
	DevMode        bool
	RequestTimeout time.Duration
	Frontier       FrontierConfig
}

// FrontierConfig holds resampling engine and cache settings
type FrontierConfig struct {
	Points           int
	Iterations       int
	ProjectionRounds int
	LearningRate     float64
	Workers          int    // 0 = one per logical CPU
	Seed             uint64 // 0 = derive from each request
	Solver           string
	SortByRisk       bool
	CacheTTL         time.Duration
	CleanupSchedule  string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FRONTIER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		Port:           getEnvAsInt("GO_PORT", 8001),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RequestTimeout: time.Duration(getEnvAsInt("FRONTIER_REQUEST_TIMEOUT_SECONDS", 120)) * time.Second,
		Frontier: FrontierConfig{
			Points:           getEnvAsInt("FRONTIER_POINTS", 50),
			Iterations:       getEnvAsInt("FRONTIER_ITERATIONS", 1000),
			ProjectionRounds: getEnvAsInt("FRONTIER_PROJECTION_ROUNDS", 10),
			LearningRate:     getEnvAsFloat("FRONTIER_LEARNING_RATE", 0.5),
			Workers:          getEnvAsInt("FRONTIER_WORKERS", 0),
			Seed:             getEnvAsUint64("FRONTIER_SEED", 0),
			Solver:           getEnv("FRONTIER_SOLVER", SolverProjected),
			SortByRisk:       getEnvAsBool("FRONTIER_SORT_BY_RISK", false),
			CacheTTL:         time.Duration(getEnvAsInt("FRONTIER_CACHE_TTL_HOURS", 24)) * time.Hour,
			CleanupSchedule:  getEnv("FRONTIER_CLEANUP_SCHEDULE", "0 0 3 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configured values are usable
func (c *Config) Validate() error {
	f := c.Frontier
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if f.Points < 1 {
		return fmt.Errorf("FRONTIER_POINTS must be at least 1, got %d", f.Points)
	}
	if f.Iterations < 1 {
		return fmt.Errorf("FRONTIER_ITERATIONS must be at least 1, got %d", f.Iterations)
	}
	if f.ProjectionRounds < 1 {
		return fmt.Errorf("FRONTIER_PROJECTION_ROUNDS must be at least 1, got %d", f.ProjectionRounds)
	}
	if f.LearningRate <= 0 {
		return fmt.Errorf("FRONTIER_LEARNING_RATE must be positive, got %v", f.LearningRate)
	}
	if f.Workers < 0 {
		return fmt.Errorf("FRONTIER_WORKERS must not be negative, got %d", f.Workers)
	}
	if f.Solver != SolverProjected && f.Solver != SolverPenalty {
		return fmt.Errorf("unknown FRONTIER_SOLVER %q (want %q or %q)", f.Solver, SolverProjected, SolverPenalty)
	}
	if f.CacheTTL <= 0 {
		return fmt.Errorf("FRONTIER_CACHE_TTL_HOURS must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uintVal, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
