package store

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoring-service/internal/common"
	"scoring-service/internal/models"
	"scoring-service/internal/payload"
)

func newTestRecords(t *testing.T) (*Records, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRecords(client), mr, client
}

func TestRecordsGetAbsentVersusUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	records := NewRecords(client)

	_, err = records.Get(ctx, "submission:missing")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, records.Put(ctx, "k", []byte(`{"a":1}`), time.Hour))
	data, err := records.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	mr.Close()
	_, err = records.Get(ctx, "k")
	require.ErrorIs(t, err, common.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}

func TestRecordsExpire(t *testing.T) {
	ctx := context.Background()
	records, mr, _ := newTestRecords(t)

	require.NoError(t, records.Put(ctx, "k", []byte(`{}`), 24*time.Hour))
	mr.FastForward(25 * time.Hour)
	_, err := records.Get(ctx, "k")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestRecordsUpdatePreservesTTL(t *testing.T) {
	ctx := context.Background()
	records, mr, _ := newTestRecords(t)

	require.NoError(t, records.Put(ctx, "k", []byte(`{"n":1}`), 24*time.Hour))
	mr.FastForward(time.Hour)

	_, err := records.Update(ctx, "k", func(current []byte) ([]byte, error) {
		return []byte(`{"n":2}`), nil
	})
	require.NoError(t, err)

	ttl, err := records.TTL(ctx, "k")
	require.NoError(t, err)
	assert.InDelta(t, float64(23*time.Hour), float64(ttl), float64(time.Minute))

	mr.FastForward(23*time.Hour + time.Minute)
	_, err = records.Get(ctx, "k")
	require.ErrorIs(t, err, common.ErrNotFound, "update must not extend expiry")
}

func TestRecordsUpdateAbortLeavesValue(t *testing.T) {
	ctx := context.Background()
	records, _, _ := newTestRecords(t)

	require.NoError(t, records.Put(ctx, "k", []byte(`{"n":1}`), time.Hour))
	_, err := records.Update(ctx, "k", func([]byte) ([]byte, error) {
		return nil, common.ErrInvalidState
	})
	require.ErrorIs(t, err, common.ErrInvalidState)

	data, err := records.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))

	_, err = records.Update(ctx, "absent", func(b []byte) ([]byte, error) { return b, nil })
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestRecordsUpdateRetriesOnConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	records, _, client := newTestRecords(t)
	require.NoError(t, records.Put(ctx, "k", []byte(`1`), time.Hour))

	calls := 0
	out, err := records.Update(ctx, "k", func(current []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			// A competing writer lands between our read and our write.
			require.NoError(t, client.Set(ctx, "k", "10", redis.KeepTTL).Err())
		}
		return append(current, '0'), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "100", string(out))
}

func TestRecordsUpdateConflictAfterRetries(t *testing.T) {
	ctx := context.Background()
	records, _, client := newTestRecords(t)
	require.NoError(t, records.Put(ctx, "k", []byte(`1`), time.Hour))

	calls := 0
	_, err := records.Update(ctx, "k", func(current []byte) ([]byte, error) {
		calls++
		require.NoError(t, client.Set(ctx, "k", "2", redis.KeepTTL).Err())
		return current, nil
	})
	require.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, maxUpdateAttempts, calls)
}

func TestSubmissionsLifecycle(t *testing.T) {
	ctx := context.Background()
	records, _, _ := newTestRecords(t)
	subs := NewSubmissions(records, 24*time.Hour)

	now := time.Now().UTC()
	sub := models.NewSubmission("s1", "u1", "sim1", payload.MustObject(map[string]any{"code": "x=1"}), now)
	require.NoError(t, subs.Create(ctx, sub))

	updated, err := subs.Update(ctx, "s1", func(s *models.Submission) error {
		return s.Update(payload.MustObject(map[string]any{"code": "x=2", "notes": "n"}), now)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := subs.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"code", "notes"}, got.Data.Keys())
	v, _ := got.Data.Get("code")
	s, _ := v.AsString()
	assert.Equal(t, "x=2", s)

	ttl, err := records.TTL(ctx, SubmissionKey("s1"))
	require.NoError(t, err)
	assert.Greater(t, ttl, 23*time.Hour)

	require.NoError(t, subs.Delete(ctx, "s1"))
	_, err = subs.Get(ctx, "s1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestScoreJobsTransitions(t *testing.T) {
	ctx := context.Background()
	records, _, _ := newTestRecords(t)
	jobs := NewScoreJobs(records, 7*24*time.Hour)

	job := models.NewScoreJob(models.NewScoreJobParams{JobID: "j1", LearnerID: "u1", SimulationID: "sim"}, time.Now().UTC())
	require.NoError(t, jobs.Create(ctx, job))

	running, err := jobs.MarkRunning(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.ScoreJobRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	afterRetry, err := jobs.RecordFailure(ctx, "j1", "boom", false)
	require.NoError(t, err)
	assert.Equal(t, 1, afterRetry.RetryCount)
	assert.Equal(t, models.ScoreJobRunning, afterRetry.Status)

	final, err := jobs.RecordFailure(ctx, "j1", "boom again", true)
	require.NoError(t, err)
	assert.Equal(t, 2, final.RetryCount)
	assert.Equal(t, models.ScoreJobError, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, "boom again", *final.Error)

	_, err = jobs.MarkDone(ctx, "j1", models.ScoreResult{Score: 90})
	require.ErrorIs(t, err, common.ErrInvalidState)

	stored, err := jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.ScoreJobError, stored.Status)
	assert.Equal(t, int64(4), stored.Version)
}

func TestScoreJobsMarkDone(t *testing.T) {
	ctx := context.Background()
	records, _, _ := newTestRecords(t)
	jobs := NewScoreJobs(records, time.Hour)

	job := models.NewScoreJob(models.NewScoreJobParams{JobID: "j2", LearnerID: "u1", SimulationID: "sim"}, time.Now().UTC())
	require.NoError(t, jobs.Create(ctx, job))
	_, err := jobs.MarkDone(ctx, "j2", models.ScoreResult{Score: 70})
	require.ErrorIs(t, err, common.ErrInvalidState, "a QUEUED job cannot complete")

	_, err = jobs.MarkRunning(ctx, "j2")
	require.NoError(t, err)
	done, err := jobs.MarkDone(ctx, "j2", models.ScoreResult{
		Score: 70, Feedback: "ok", Breakdown: payload.MustObject(map[string]any{"correctness": 0.7}),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ScoreJobDone, done.Status)
	require.NotNil(t, done.Score)
	assert.Equal(t, 70, *done.Score)
}

func TestScoreJobsRecordStalledCountsEachAttemptOnce(t *testing.T) {
	ctx := context.Background()
	records, _, _ := newTestRecords(t)
	jobs := NewScoreJobs(records, time.Hour)

	job := models.NewScoreJob(models.NewScoreJobParams{JobID: "j1", LearnerID: "u1", SimulationID: "sim"}, time.Now().UTC())
	require.NoError(t, jobs.Create(ctx, job))
	_, err := jobs.MarkRunning(ctx, "j1")
	require.NoError(t, err)

	stalled, err := jobs.RecordStalled(ctx, "j1", "lease expired", 1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stalled.RetryCount)

	// The failure of attempt 2 was recorded, but the queue only learned of it on reclaim.
	_, err = jobs.RecordFailure(ctx, "j1", "boom", false)
	require.NoError(t, err)
	again, err := jobs.RecordStalled(ctx, "j1", "lease expired", 2, false)
	require.NoError(t, err)
	assert.Equal(t, 2, again.RetryCount)

	final, err := jobs.RecordStalled(ctx, "j1", "lease expired", 3, true)
	require.NoError(t, err)
	assert.Equal(t, 3, final.RetryCount)
	assert.Equal(t, models.ScoreJobError, final.Status)

	_, err = jobs.RecordStalled(ctx, "j1", "lease expired", 4, true)
	require.ErrorIs(t, err, common.ErrInvalidState)
}

func TestScoreJobsStartAttemptCatchesUpRetryCount(t *testing.T) {
	ctx := context.Background()
	records, _, _ := newTestRecords(t)
	jobs := NewScoreJobs(records, time.Hour)

	job := models.NewScoreJob(models.NewScoreJobParams{JobID: "j1", LearnerID: "u1", SimulationID: "sim"}, time.Now().UTC())
	require.NoError(t, jobs.Create(ctx, job))

	started, err := jobs.StartAttempt(ctx, "j1", 1)
	require.NoError(t, err)
	assert.Equal(t, models.ScoreJobRunning, started.Status)
	assert.Equal(t, 1, started.RetryCount)

	// A reclaim recorded after the claim does not count the attempt again.
	stalled, err := jobs.RecordStalled(ctx, "j1", "lease expired", 1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stalled.RetryCount)

	again, err := jobs.StartAttempt(ctx, "j1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, again.RetryCount, "retry_count never moves backwards")
}
