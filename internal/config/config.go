package config

import (
	"os"
	"strconv"

	"gocausal/domain/causal"
	"gocausal/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Estimation EstimationConfig
}

// DatabaseConfig holds database connection settings. URL may be empty,
// in which case callers fall back to the in-memory estimate ledger.
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string
}

// EstimationConfig carries environment overrides for estimator defaults
type EstimationConfig struct {
	Kernel        string
	GaussCutoff   float64
	Dim           int
	Threads       int
	MaxIterations int
	Level         float64
}

// Load reads configuration from environment variables with defaults.
// Only values that would make estimation impossible are rejected here;
// per-request configuration is validated against the sample at call time.
func Load() (*Config, error) {
	cfg := &Config{
		Database:   loadDatabaseConfig(),
		Server:     loadServerConfig(),
		Estimation: loadEstimationConfig(),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL: getEnvOrDefault("DATABASE_URL", ""),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port: getEnvOrDefault("PORT", "8080"),
	}
}

func loadEstimationConfig() EstimationConfig {
	return EstimationConfig{
		Kernel:        getEnvOrDefault("ESTIMATION_KERNEL", string(causal.KernelEpanechnikov)),
		GaussCutoff:   getEnvFloatOrDefault("ESTIMATION_GAUSS_CUTOFF", 1e-3),
		Dim:           getEnvIntOrDefault("ESTIMATION_DIM", 1),
		Threads:       getEnvIntOrDefault("ESTIMATION_THREADS", 1),
		MaxIterations: getEnvIntOrDefault("ESTIMATION_MAX_ITERATIONS", 2000),
		Level:         getEnvFloatOrDefault("CONFIDENCE_LEVEL", 0.95),
	}
}

func validateConfig(cfg *Config) error {
	if !causal.KernelSpec(cfg.Estimation.Kernel).Valid() {
		return errors.ConfigInvalid("ESTIMATION_KERNEL must be 'epanechnikov' or 'gaussian_cutoff'")
	}
	if cfg.Estimation.Dim < 1 {
		return errors.ConfigInvalid("ESTIMATION_DIM must be at least 1")
	}
	if cfg.Estimation.Threads < 1 {
		return errors.ConfigInvalid("ESTIMATION_THREADS must be at least 1")
	}
	if cfg.Estimation.MaxIterations < 1 {
		return errors.ConfigInvalid("ESTIMATION_MAX_ITERATIONS must be at least 1")
	}
	if cfg.Estimation.Level <= 0 || cfg.Estimation.Level >= 1 {
		return errors.ConfigInvalid("CONFIDENCE_LEVEL must be strictly between 0 and 1")
	}
	return nil
}

// CausalConfig expands the environment overrides into a full estimator
// configuration, starting from the library defaults.
func (e EstimationConfig) CausalConfig() causal.Config {
	cfg := causal.DefaultConfig()
	cfg.Kernel = causal.KernelSpec(e.Kernel)
	cfg.GaussCutoff = e.GaussCutoff
	cfg.Dim = e.Dim
	cfg.NThreads = e.Threads
	cfg.MaxIterations = e.MaxIterations
	return cfg
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
