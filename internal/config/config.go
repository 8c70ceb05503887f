// Package config provides configuration management for the catalog importer.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Webhook  WebhookConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
}

// URL returns the database URL form used by the migrations runner.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	QueueNamespace string
}

// ImportConfig holds ingestion pipeline configuration
type ImportConfig struct {
	BatchSize       int
	MaxErrorSamples int
	UploadDir       string
	MaxUploadSize   int64
}

// WebhookConfig holds delivery subsystem configuration
type WebhookConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	RetryDelays []time.Duration
	OutboundRPS float64
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// defaultRetryDelays is the fixed backoff schedule between delivery attempts.
var defaultRetryDelays = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	7200 * time.Second,
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 5*time.Minute),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "catalog_importer"),
				User:           getEnv("POSTGRES_USER", "catalog"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
				MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
				QueueNamespace: getEnv("REDIS_QUEUE_NAMESPACE", "catalog:tasks"),
			},
		},
		Import: ImportConfig{
			BatchSize:       getEnvAsInt("IMPORT_BATCH_SIZE", 1000),
			MaxErrorSamples: getEnvAsInt("IMPORT_MAX_ERROR_SAMPLES", 100),
			UploadDir:       getEnv("IMPORT_UPLOAD_DIR", "uploads"),
			MaxUploadSize:   getEnvAsInt64("IMPORT_MAX_UPLOAD_SIZE", 500*1024*1024),
		},
		Webhook: WebhookConfig{
			Timeout:     getEnvAsDuration("WEBHOOK_TIMEOUT", 30*time.Second),
			MaxAttempts: getEnvAsInt("WEBHOOK_MAX_ATTEMPTS", 5),
			RetryDelays: getEnvAsDurationList("WEBHOOK_RETRY_DELAYS", defaultRetryDelays),
			OutboundRPS: getEnvAsFloat("WEBHOOK_OUTBOUND_RPS", 50),
		},
		Worker: WorkerConfig{
			Concurrency:  getEnvAsInt("WORKER_CONCURRENCY", 5),
			PollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if config.Import.BatchSize <= 0 {
		return nil, fmt.Errorf("IMPORT_BATCH_SIZE must be positive, got %d", config.Import.BatchSize)
	}
	if config.Webhook.MaxAttempts <= 0 {
		return nil, fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be positive, got %d", config.Webhook.MaxAttempts)
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 gets an environment variable as an int64 with a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float64 with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDurationList parses a comma-separated list of durations (e.g.
// "60s,5m,15m"), falling back to the default schedule on any parse error.
func getEnvAsDurationList(key string, defaultValue []time.Duration) []time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		values = append(values, d)
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
