package common

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Worker   WorkerConfig
	HTTP     HTTPConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// WorkerConfig holds batch-processing configuration
type WorkerConfig struct {
	BatchSize   int
	MaxAttempts int
	Table       string
	Concurrency int
}

// HTTPConfig holds download-client configuration
type HTTPConfig struct {
	MaxPDFMB       float64
	RequestTimeout time.Duration
	RetryTotal     int
	RetryBackoff   time.Duration
	UserAgent      string
}

// LoadDotEnv loads a .env file from the working directory if one exists.
// A missing file is fine; a malformed one is logged and ignored.
func LoadDotEnv(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(); err != nil {
		logger.Warn("failed to load .env", "error", err)
		return
	}
	logger.Debug("loaded .env")
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Worker: WorkerConfig{
			BatchSize:   getEnvAsInt("WORKER_BATCH_SIZE", 200),
			MaxAttempts: getEnvAsInt("MAX_ATTEMPTS", 5),
			Table:       getEnv("DOCS_TABLE", "dev.documents"),
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 1),
		},
		HTTP: HTTPConfig{
			MaxPDFMB:       getEnvAsFloat64("MAX_PDF_MB", 30),
			RequestTimeout: getEnvAsSeconds("REQUEST_TIMEOUT", 30*time.Second),
			RetryTotal:     getEnvAsInt("REQUEST_RETRY_TOTAL", 3),
			RetryBackoff:   getEnvAsSeconds("REQUEST_RETRY_BACKOFF", 500*time.Millisecond),
			UserAgent:      getEnv("HTTP_USER_AGENT", "pdf-processor/1.0"),
		},
	}
}

// Helper functions for environment variable parsing
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

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsSeconds parses a bare number of seconds ("30", "0.5") into a Duration.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(floatVal * float64(time.Second))
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Worker.BatchSize <= 0 {
		return NewAppError("CONFIG_ERROR", "WORKER_BATCH_SIZE must be positive", ErrInvalidInput)
	}
	if c.Worker.MaxAttempts <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_ATTEMPTS must be positive", ErrInvalidInput)
	}
	if c.Worker.Concurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "WORKER_CONCURRENCY must be positive", ErrInvalidInput)
	}
	if c.HTTP.MaxPDFMB <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_PDF_MB must be positive", ErrInvalidInput)
	}
	return nil
}
