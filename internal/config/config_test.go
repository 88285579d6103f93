package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, 5, cfg.WorkerConcurrency)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, 24*time.Hour, cfg.SubmissionTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.ScoreJobTTL)
	assert.Equal(t, "scoring-jobs", cfg.QueueName)
	assert.Equal(t, 100*time.Millisecond, cfg.WorkerPollInterval, "retries are claimed within one poll of falling due")
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("RETRY_DELAY", "250")
	t.Setenv("LEASE_TIMEOUT", "45s")
	t.Setenv("BACKOFF_MULTIPLIER", "3")
	t.Setenv("ARCHIVE_S3_PATH_STYLE", "true")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 45*time.Second, cfg.LeaseTimeout)
	assert.Equal(t, 3.0, cfg.BackoffMultiplier)
	assert.True(t, cfg.ArchiveS3PathStyle)
	assert.Equal(t, 3, cfg.MaxRetries, "unparsable values fall back to the default")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := FromEnv()
	cfg.WorkerConcurrency = 0
	cfg.MaxRetries = 0
	cfg.BackoffMultiplier = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_CONCURRENCY")
	assert.Contains(t, err.Error(), "MAX_RETRIES")
	assert.Contains(t, err.Error(), "BACKOFF_MULTIPLIER")
}
