package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
)

type AnalyzeTextRequest struct {
	Text string `json:"text" binding:"required"`
}

type AnalyzeFileRequest struct {
	FileID string `json:"fileId" binding:"required"`
}

type SubmitJobResponse struct {
	JobID  string           `json:"jobId"`
	Status domain.JobStatus `json:"status"`
}

type UploadResponse struct {
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID     string           `json:"job_id"`
	JobType   domain.JobType   `json:"job_type"`
	Filename  string           `json:"filename,omitempty"`
	Status    domain.JobStatus `json:"status"`
	Progress  int              `json:"progress"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
}

func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:     job.JobID,
		JobType:   job.JobType,
		Filename:  job.Filename,
		Status:    job.Status,
		Progress:  job.Progress,
		Result:    job.Result,
		Error:     job.ErrorMessage,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
}

// CleanupRequest takes a Go duration string such as "24h" or "30m".
type CleanupRequest struct {
	OlderThan string `json:"older_than"`
}

type CleanupResponse struct {
	Deleted int64 `json:"deleted"`
}
