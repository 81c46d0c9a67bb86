package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of an extraction job as seen on the wire.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	// JobStatusError is accepted from older backends as a synonym of failed.
	JobStatusError JobStatus = "error"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusError:
		return true
	}
	return false
}

// IsFailure reports whether the job ended without a result.
func (s JobStatus) IsFailure() bool {
	return s == JobStatusFailed || s == JobStatusError
}

// JobType distinguishes the input the worker has to extract from.
type JobType string

const (
	JobTypeText JobType = "text"
	JobTypeFile JobType = "file"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	return t == JobTypeText || t == JobTypeFile
}

// Job is the persisted record of a single extraction request.
type Job struct {
	JobID          string          `db:"job_id"`
	JobType        JobType         `db:"job_type"`
	Input          string          `db:"input"`
	Filename       string          `db:"filename"`
	Status         JobStatus       `db:"status"`
	Progress       int             `db:"progress"`
	Result         json.RawMessage `db:"result"`
	ErrorMessage   string          `db:"error_message"`
	WorkerID       string          `db:"worker_id"`
	RetryCount     int             `db:"retry_count"`
	MaxRetries     int             `db:"max_retries"`
	TimeoutSeconds int             `db:"timeout_seconds"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// StatusReport is the body of the job status endpoint and what the poller observes.
type StatusReport struct {
	JobID    string          `json:"jobId"`
	Status   JobStatus       `json:"status"`
	Progress *int            `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// NewStatusReport builds the wire view of a job.
func NewStatusReport(job *Job) *StatusReport {
	progress := job.Progress
	report := &StatusReport{
		JobID:    job.JobID,
		Status:   job.Status,
		Progress: &progress,
		Error:    job.ErrorMessage,
	}
	if len(job.Result) > 0 && string(job.Result) != "null" {
		report.Result = job.Result
	}
	return report
}

// UploadKey is the object key under which an uploaded file is stored.
func UploadKey(fileID string) string {
	return "uploads/" + fileID
}
