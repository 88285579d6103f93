package models

import "scoring-service/internal/payload"

// ScoringTask is the queue payload: everything a worker needs to re-run scoring
// without reading the submission, which may have expired.
type ScoringTask struct {
	JobID          string          `json:"job_id"`
	SubmissionID   string          `json:"submission_id,omitempty"`
	LearnerID      string          `json:"learner_id"`
	SimulationID   string          `json:"simulation_id"`
	SubmissionData *payload.Object `json:"submission_data"`
}

// TaskFor builds the queue payload for a job.
func TaskFor(job ScoreJob) ScoringTask {
	t := ScoringTask{
		JobID:          job.JobID,
		LearnerID:      job.LearnerID,
		SimulationID:   job.SimulationID,
		SubmissionData: job.SubmissionData,
	}
	if job.SubmissionID != nil {
		t.SubmissionID = *job.SubmissionID
	}
	return t
}
