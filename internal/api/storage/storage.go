package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// jobColumns is shared by every job read; result is coalesced so NULL scans into json.RawMessage.
const jobColumns = `
	job_id, job_type, input, filename, status, progress,
	COALESCE(result, 'null'::jsonb) AS result, error_message, worker_id,
	retry_count, max_retries, timeout_seconds, created_at, updated_at
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// NewStorageFromDB is used when the caller already owns a *sqlx.DB.
func NewStorageFromDB(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, job_type, input, filename, status,
			progress, max_retries, timeout_seconds, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.JobType,
		job.Input,
		job.Filename,
		job.Status,
		job.Progress,
		job.MaxRetries,
		job.TimeoutSeconds,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	normalizeResult(&job)
	return &job, nil
}

type JobFilter struct {
	JobType  string
	Status   string
	PageSize int
	Cursor   *Cursor
}

// Cursor is a keyset position: rows strictly older than (CreatedAt, ID) come next.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// One extra row tells the handler whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	for i := range jobs {
		normalizeResult(&jobs[i])
	}
	return jobs, nil
}

// DeleteJob removes a finished job. Pending and processing jobs are refused.
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE job_id = $1 AND status IN ($2, $3)`,
		jobID, domain.JobStatusCompleted, domain.JobStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing deleted: either unknown or still running
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrJobNotTerminal
}

// CleanupJobs deletes finished jobs last updated before olderThan.
func (s *Storage) CleanupJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2) AND updated_at < $3`,
		domain.JobStatusCompleted, domain.JobStatusFailed, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup jobs: %w", err)
	}
	return res.RowsAffected()
}

// FailJob marks a pending job failed.
func (s *Storage) FailJob(ctx context.Context, jobID, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error_message = $2, completed_at = NOW(), updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`, domain.JobStatusFailed, errorMsg, jobID, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

func normalizeResult(job *domain.Job) {
	if string(job.Result) == "null" {
		job.Result = nil
	}
}
