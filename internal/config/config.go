package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EngineConfig tunes the reference fit engine.
type EngineConfig struct {
	MaxIterations int
	Samples       int
	BurnIn        int
}

// AppConfig holds the complete application configuration.
type AppConfig struct {
	DataPath  string
	LogDir    string
	OutputDir string

	// ModelPath is the default model description file.
	ModelPath string
	Seed      uint64
	Workers   int
	Ensembles int
	LogLevel  string
	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string

	Engine EngineConfig
}

// Load loads the configuration from .env files and environment variables.
func Load() (*AppConfig, error) {
	// 1. Try to load from the executable's directory
	exePath, err := os.Executable()
	exeDir := ""
	if err == nil {
		exeDir = filepath.Dir(exePath)
		envPath := filepath.Join(exeDir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}

	// 2. Fallback to current working directory (useful for development/go run)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables or binary-relative .env")
	}

	// 3. Resolve Data Paths
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		if exeDir != "" {
			dataPath = exeDir
		} else {
			dataPath = "."
		}
	}

	logDir := getEnv("LOGS_FOLDER", filepath.Join(dataPath, "logs"))
	outputDir := getEnv("MTF_OUTPUT_DIR", filepath.Join(dataPath, "results"))

	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Warn().Err(err).Str("path", logDir).Msg("Failed to create log directory")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		log.Warn().Err(err).Str("path", outputDir).Msg("Failed to create output directory")
	}

	seed, err := getEnvUint("MTF_SEED", 4357)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvInt("MTF_WORKERS", 1)
	if err != nil {
		return nil, err
	}
	ensembles, err := getEnvInt("MTF_ENSEMBLES", 1000)
	if err != nil {
		return nil, err
	}
	maxIter, err := getEnvInt("MTF_MAX_ITERATIONS", 5000)
	if err != nil {
		return nil, err
	}
	samples, err := getEnvInt("MTF_MCMC_SAMPLES", 4000)
	if err != nil {
		return nil, err
	}
	burnIn, err := getEnvInt("MTF_MCMC_BURNIN", 1000)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		DataPath:    dataPath,
		LogDir:      logDir,
		OutputDir:   outputDir,
		ModelPath:   getEnv("MTF_MODEL", ""),
		Seed:        seed,
		Workers:     workers,
		Ensembles:   ensembles,
		LogLevel:    getEnv("MTF_LOG_LEVEL", "info"),
		MetricsAddr: getEnv("MTF_METRICS_ADDR", ""),
		Engine: EngineConfig{
			MaxIterations: maxIter,
			Samples:       samples,
			BurnIn:        burnIn,
		},
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvUint(key string, fallback uint64) (uint64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}
