// Package archive copies terminal score job records to durable storage so
// outcomes outlive the record store's retention window.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scoring-service/internal/config"
	"scoring-service/internal/models"
)

// Archiver persists a terminal score job and returns where it was written.
type Archiver interface {
	Archive(ctx context.Context, job models.ScoreJob) (string, error)
}

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Store archives jobs as JSON documents through an uploader.
type Store struct {
	up uploader
}

// New picks the archive backend from config: S3 when a bucket is set, a local
// directory when one is set, otherwise Nop.
func New(ctx context.Context, cfg config.Config) (Archiver, error) {
	switch {
	case cfg.ArchiveS3Bucket != "":
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Store{up: &s3Uploader{client: client, bucket: cfg.ArchiveS3Bucket}}, nil
	case cfg.ArchiveDir != "":
		return NewLocal(cfg.ArchiveDir), nil
	default:
		return Nop{}, nil
	}
}

// NewLocal archives under baseDir on the local filesystem.
func NewLocal(baseDir string) *Store {
	return &Store{up: &localUploader{baseDir: baseDir}}
}

// Key is the object key of a job, partitioned by completion date.
func Key(job models.ScoreJob) string {
	at := job.CreatedAt
	if job.CompletedAt != nil {
		at = *job.CompletedAt
	}
	at = at.UTC()
	return fmt.Sprintf("score-jobs/%04d/%02d/%02d/%s.json", at.Year(), int(at.Month()), at.Day(), job.JobID)
}

func (s *Store) Archive(ctx context.Context, job models.ScoreJob) (string, error) {
	if !job.Status.IsTerminal() {
		return "", fmt.Errorf("archive %s: status %s is not terminal", job.JobID, job.Status)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("archive %s: encode: %w", job.JobID, err)
	}
	loc, err := s.up.Upload(ctx, Key(job), body, "application/json")
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", job.JobID, err)
	}
	return loc, nil
}

// Nop archives nothing.
type Nop struct{}

func (Nop) Archive(context.Context, models.ScoreJob) (string, error) { return "", nil }

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	tmp := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename file: %w", err)
	}
	return path, nil
}
