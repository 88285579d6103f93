package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds shared runtime configuration for the API, worker and CLI.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string

	QueueName            string
	WorkerConcurrency    int
	MaxRetries           int
	RetryDelay           time.Duration
	BackoffMultiplier    float64
	LeaseTimeout         time.Duration
	WorkerPollInterval   time.Duration
	MaintenanceInterval  time.Duration
	MaintenanceBatchSize int

	SubmissionTTL time.Duration
	ScoreJobTTL   time.Duration

	ScoringLatency time.Duration
	ScoringSeed    int64

	RateLimitCapacity int
	RateLimitRefill   float64

	ArchiveDir         string
	ArchiveS3Bucket    string
	ArchiveS3Region    string
	ArchiveS3Endpoint  string
	ArchiveS3PathStyle bool
}

// Load reads an optional .env file, then configuration from environment
// variables with defaults suited to local development.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),

		QueueName:            getEnv("QUEUE_NAME", "scoring-jobs"),
		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 5),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		RetryDelay:           getEnvDuration("RETRY_DELAY", time.Second),
		BackoffMultiplier:    getEnvFloat("BACKOFF_MULTIPLIER", 2),
		LeaseTimeout:         getEnvDuration("LEASE_TIMEOUT", 30*time.Second),
		WorkerPollInterval:   getEnvDuration("WORKER_POLL_INTERVAL", 100*time.Millisecond),
		MaintenanceInterval:  getEnvDuration("MAINTENANCE_INTERVAL", 2*time.Second),
		MaintenanceBatchSize: getEnvInt("MAINTENANCE_BATCH_SIZE", 100),

		SubmissionTTL: getEnvDuration("SUBMISSION_TTL", 24*time.Hour),
		ScoreJobTTL:   getEnvDuration("SCORE_JOB_TTL", 7*24*time.Hour),

		ScoringLatency: getEnvDuration("SCORING_LATENCY", 0),
		ScoringSeed:    int64(getEnvInt("SCORING_SEED", 0)),

		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),

		ArchiveDir:         getEnv("ARCHIVE_DIR", ""),
		ArchiveS3Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Region:    getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
		ArchiveS3PathStyle: getEnvBool("ARCHIVE_S3_PATH_STYLE", false),
	}
}

// Validate rejects settings the queue and worker cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be >= 1, got %d", c.MaxRetries))
	}
	if c.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_DELAY must be positive, got %s", c.RetryDelay))
	}
	if c.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("BACKOFF_MULTIPLIER must be >= 1, got %g", c.BackoffMultiplier))
	}
	if c.LeaseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LEASE_TIMEOUT must be positive, got %s", c.LeaseTimeout))
	}
	if c.WorkerPollInterval <= 0 || c.MaintenanceInterval <= 0 {
		errs = append(errs, errors.New("WORKER_POLL_INTERVAL and MAINTENANCE_INTERVAL must be positive"))
	}
	if c.SubmissionTTL <= 0 || c.ScoreJobTTL <= 0 {
		errs = append(errs, errors.New("SUBMISSION_TTL and SCORE_JOB_TTL must be positive"))
	}
	if c.QueueName == "" {
		errs = append(errs, errors.New("QUEUE_NAME must not be empty"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("1.5s") or bare integers as milliseconds ("1000").
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
