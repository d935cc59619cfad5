// Package config loads service configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the service reads from the environment.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// DatabaseDSN selects and configures the job and catalog store. A
	// DSN starting with "postgres://" opens PostgreSQL; anything else is
	// treated as a SQLite path.
	DatabaseDSN string

	// RedisURL enables the revalidation notifier when non-empty.
	RedisURL string

	// InternalSecret guards the internal service-to-service routes.
	InternalSecret string

	// ChunkSize is rows per progress checkpoint.
	ChunkSize int

	// ChunkRetries is attempts per chunk-level storage operation.
	ChunkRetries int

	// StorageTimeout bounds each storage attempt.
	StorageTimeout time.Duration

	// Concurrency is jobs driven at once per worker.
	Concurrency int

	// Debug switches development logging on.
	Debug bool
}

// Load reads configuration from the environment. envFile, when non-empty,
// is loaded first and must exist; a plain ".env" is loaded opportunistically.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Addr:           getEnv("PIPELINE_ADDR", ":8080"),
		DatabaseDSN:    getEnv("PIPELINE_DB_DSN", "pipeline.db"),
		RedisURL:       getEnv("PIPELINE_REDIS_URL", ""),
		InternalSecret: getEnv("PIPELINE_INTERNAL_SECRET", ""),
		ChunkSize:      getEnvInt("PIPELINE_CHUNK_SIZE", 250),
		ChunkRetries:   getEnvInt("PIPELINE_CHUNK_RETRIES", 3),
		StorageTimeout: getEnvDuration("PIPELINE_STORAGE_TIMEOUT", 10*time.Second),
		Concurrency:    getEnvInt("PIPELINE_CONCURRENCY", 4),
		Debug:          getEnvBool("PIPELINE_DEBUG", false),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
