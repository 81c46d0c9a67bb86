package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
	workerdomain "github.com/cuongbtq/pricecards/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

// Progress checkpoints reported while a job runs
const (
	ProgressClaimed   = 10
	ProgressLoaded    = 40
	ProgressExtracted = 90
	ProgressDone      = 100
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob moves a pending job to processing using optimistic locking.
// Returns the full job on success, ErrJobAlreadyClaimed if it is not pending or doesn't exist.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    progress = $3,
		    error_message = '',
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $4
		  AND status = $5
		RETURNING job_id, job_type, input, filename, status, progress, worker_id,
		          retry_count, max_retries, timeout_seconds, created_at, updated_at
	`

	var job domain.Job
	err := s.db.QueryRowxContext(ctx, query,
		domain.JobStatusProcessing, workerID, ProgressClaimed, jobID, domain.JobStatusPending,
	).StructScan(&job)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, workerdomain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("job_type", string(job.JobType)),
	)

	return &job, nil
}

// UpdateProgress records a progress checkpoint of a processing job
func (s *Storage) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET progress = $1, updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`, progress, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// CompleteJob stores the extracted card and marks the job completed
func (s *Storage) CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    progress = $2,
		    result = $3::jsonb,
		    error_message = '',
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $4
	`, domain.JobStatusCompleted, ProgressDone, string(result), jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(domain.JobStatusCompleted)),
	)
	return nil
}

// FailJob marks the job failed; progress is left where it stopped
func (s *Storage) FailJob(ctx context.Context, jobID, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
	`, domain.JobStatusFailed, errorMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(domain.JobStatusFailed)),
	)
	return nil
}

// RetryJob puts a processing job back to pending so a redelivered message can claim it again
func (s *Storage) RetryJob(ctx context.Context, jobID, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1,
		    progress = 0,
		    retry_count = retry_count + 1,
		    error_message = $2,
		    worker_id = '',
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`, domain.JobStatusPending, errorMsg, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to reset job for retry: %w", err)
	}
	return nil
}

// UpdateJobHeartbeat updates the job's heartbeat timestamp
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET last_heartbeat_at = NOW() WHERE job_id = $1 AND status = $2
	`, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// StaleJob is a processing job whose worker stopped sending heartbeats
type StaleJob struct {
	JobID  string           `db:"job_id"`
	Status domain.JobStatus `db:"status"`
}

// RecoverStaleJobs releases processing jobs whose last heartbeat is older than staleAfter.
// Jobs with retries left go back to pending with retry_count+1, the rest are marked failed.
func (s *Storage) RecoverStaleJobs(ctx context.Context, staleAfter time.Duration, errorMsg string) ([]StaleJob, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN retry_count < max_retries THEN $1 ELSE $2 END,
		    retry_count = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
		    progress = CASE WHEN retry_count < max_retries THEN 0 ELSE progress END,
		    completed_at = CASE WHEN retry_count < max_retries THEN NULL ELSE NOW() END,
		    worker_id = '',
		    error_message = $3,
		    updated_at = NOW()
		WHERE status = $4
		  AND COALESCE(last_heartbeat_at, started_at, updated_at) < NOW() - $5::float8 * INTERVAL '1 second'
		RETURNING job_id, status
	`

	var jobs []StaleJob
	err := s.db.SelectContext(ctx, &jobs, query,
		domain.JobStatusPending, domain.JobStatusFailed, errorMsg,
		domain.JobStatusProcessing, staleAfter.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	for _, job := range jobs {
		s.logger.Warn("Recovered stale job",
			slog.String("job_id", job.JobID),
			slog.String("status", string(job.Status)),
		)
	}
	return jobs, nil
}
