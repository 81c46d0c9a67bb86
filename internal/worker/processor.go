package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/extract"
	workerdomain "github.com/cuongbtq/pricecards/internal/worker/domain"
	"github.com/cuongbtq/pricecards/internal/worker/storage"
	"github.com/cuongbtq/pricecards/shared/objectstore"
)

const statusUpdateTimeout = 10 * time.Second

// processJob claims a job, runs the extraction with a timeout and heartbeat, and records the outcome
func (w *Worker) processJob(ctx context.Context, msg *workerdomain.JobMessage) error {
	job, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, workerdomain.ErrJobAlreadyClaimed) {
			return fmt.Errorf("job %s: %w", msg.JobID, err)
		}
		// Database error - could be transient
		return workerdomain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	logger := w.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("job_type", string(job.JobType)),
	)
	logger.Info("Processing job", slog.Int("retry_count", job.RetryCount))

	jobTimeout := w.jobTimeout
	if job.TimeoutSeconds > 0 {
		jobTimeout = time.Duration(job.TimeoutSeconds) * time.Second
	}

	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)
	defer close(heartbeatDone)

	start := time.Now()
	result, err := w.executeJob(jobCtx, job)

	// Status writes must land even when the job context expired or the worker is shutting down
	updateCtx, cancelUpdate := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancelUpdate()

	if err != nil {
		return w.handleFailure(updateCtx, logger, job, err)
	}

	if err := w.storage.CompleteJob(updateCtx, job.JobID, result); err != nil {
		// The result is lost; a redelivery will redo the work
		return workerdomain.NewRetryableError(err)
	}

	logger.Info("Job completed", slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return nil
}

// handleFailure marks the job failed or puts it back to pending, and returns the error that drives the NACK
func (w *Worker) handleFailure(ctx context.Context, logger *slog.Logger, job *domain.Job, err error) error {
	if isPermanent(err) {
		logger.Error("Job failed", slog.String("error", err.Error()))
		if updateErr := w.storage.FailJob(ctx, job.JobID, failureMessage(err)); updateErr != nil {
			logger.Error("Failed to update job status to failed", slog.String("error", updateErr.Error()))
		}
		return fmt.Errorf("%w: %v", workerdomain.ErrInvalidPayload, err)
	}

	if job.RetryCount < job.MaxRetries {
		logger.Warn("Job will be retried",
			slog.Int("retry_count", job.RetryCount),
			slog.Int("max_retries", job.MaxRetries),
			slog.String("error", err.Error()),
		)
		if updateErr := w.storage.RetryJob(ctx, job.JobID, failureMessage(err)); updateErr != nil {
			logger.Error("Failed to reset job for retry", slog.String("error", updateErr.Error()))
		}
		return workerdomain.NewRetryableError(fmt.Errorf("job execution failed: %w", err))
	}

	logger.Error("Job exceeded max retries",
		slog.Int("retry_count", job.RetryCount),
		slog.Int("max_retries", job.MaxRetries),
		slog.String("error", err.Error()),
	)
	if updateErr := w.storage.FailJob(ctx, job.JobID, failureMessage(err)); updateErr != nil {
		logger.Error("Failed to update job status to failed", slog.String("error", updateErr.Error()))
	}
	return fmt.Errorf("%w: %v", workerdomain.ErrMaxRetriesExceeded, err)
}

// isPermanent reports errors a retry cannot fix
func isPermanent(err error) bool {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, objectstore.ErrObjectNotFound),
		errors.Is(err, extract.ErrInvalidOutput):
		return true
	}

	var backendErr *domain.BackendError
	if errors.As(err, &backendErr) {
		code := backendErr.StatusCode
		return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
	}
	return false
}

// failureMessage is what the status endpoint shows the user
func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "processing timed out"
	case errors.Is(err, objectstore.ErrObjectNotFound):
		return "uploaded file not found"
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return "unsupported file format"
	}
	return err.Error()
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.storage.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// executeJob loads the job input, runs the extraction and returns the card as the job result
func (w *Worker) executeJob(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	input, err := w.loadInput(ctx, job)
	if err != nil {
		return nil, err
	}
	w.reportProgress(ctx, job.JobID, storage.ProgressLoaded)

	card, _, err := w.extractor.Extract(ctx, input)
	if err != nil {
		return nil, err
	}
	w.reportProgress(ctx, job.JobID, storage.ProgressExtracted)

	result, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return result, nil
}

func (w *Worker) reportProgress(ctx context.Context, jobID string, progress int) {
	if err := w.storage.UpdateProgress(ctx, jobID, progress); err != nil {
		w.logger.Warn("Failed to update job progress",
			slog.String("job_id", jobID),
			slog.Int("progress", progress),
			slog.String("error", err.Error()),
		)
	}
}

// loadInput turns a job into extractor input. Images go to the model as a
// data URL, text-like files as text.
func (w *Worker) loadInput(ctx context.Context, job *domain.Job) (extract.Input, error) {
	switch job.JobType {
	case domain.JobTypeText:
		if strings.TrimSpace(job.Input) == "" {
			return extract.Input{}, fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
		}
		return extract.Input{Text: job.Input}, nil

	case domain.JobTypeFile:
		data, info, err := w.files.GetObject(ctx, domain.UploadKey(job.Input), w.maxFileBytes)
		if err != nil {
			return extract.Input{}, err
		}
		filename := job.Filename
		if filename == "" {
			filename = info.Filename
		}

		contentType := info.ContentType
		if i := strings.IndexByte(contentType, ';'); i >= 0 {
			contentType = strings.TrimSpace(contentType[:i])
		}

		switch {
		case strings.HasPrefix(contentType, "image/"):
			dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
			return extract.Input{Filename: filename, ImageDataURL: dataURL}, nil
		case isTextual(contentType):
			return extract.Input{Filename: filename, Text: string(data)}, nil
		}
		return extract.Input{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, contentType)
	}

	return extract.Input{}, fmt.Errorf("%w: unknown job type %q", domain.ErrInvalidInput, job.JobType)
}

func isTextual(contentType string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	switch contentType {
	case "application/json", "application/xml", "application/csv":
		return true
	}
	return false
}
