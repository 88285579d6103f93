package archive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoring-service/internal/config"
	"scoring-service/internal/models"
	"scoring-service/internal/payload"
)

func doneJob(t *testing.T) models.ScoreJob {
	t.Helper()
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	job := models.NewScoreJob(models.NewScoreJobParams{
		JobID:          "job-1",
		LearnerID:      "learner-1",
		SimulationID:   "sim-1",
		SubmissionData: payload.MustObject(map[string]any{"code": "x"}),
	}, now)
	require.NoError(t, job.Start(now))
	require.NoError(t, job.Complete(models.ScoreResult{Score: 88, Feedback: "ok"}, now.Add(time.Second)))
	return job
}

func TestKeyPartitionsByCompletionDate(t *testing.T) {
	assert.Equal(t, "score-jobs/2024/05/06/job-1.json", Key(doneJob(t)))
}

func TestLocalArchive(t *testing.T) {
	dir := t.TempDir()
	arch := NewLocal(dir)

	loc, err := arch.Archive(context.Background(), doneJob(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "score-jobs", "2024", "05", "06", "job-1.json"), loc)

	raw, err := os.ReadFile(loc)
	require.NoError(t, err)
	var got models.ScoreJob
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, models.ScoreJobDone, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 88, *got.Score)
}

func TestArchiveRejectsActiveJob(t *testing.T) {
	job := models.NewScoreJob(models.NewScoreJobParams{JobID: "job-2"}, time.Now())
	_, err := NewLocal(t.TempDir()).Archive(context.Background(), job)
	assert.Error(t, err)
}

func TestNewWithoutBackendIsNop(t *testing.T) {
	arch, err := New(context.Background(), config.Config{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, arch)
}

func TestS3Archive(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	var (
		mu     sync.Mutex
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, b
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	arch, err := New(context.Background(), config.Config{
		ArchiveS3Bucket:    "results",
		ArchiveS3Region:    "us-east-1",
		ArchiveS3Endpoint:  srv.URL,
		ArchiveS3PathStyle: true,
	})
	require.NoError(t, err)

	loc, err := arch.Archive(context.Background(), doneJob(t))
	require.NoError(t, err)
	assert.Equal(t, "s3://results/score-jobs/2024/05/06/job-1.json", loc)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/results/score-jobs/2024/05/06/job-1.json", path)
	assert.Contains(t, string(body), `"job_id":"job-1"`)
}
