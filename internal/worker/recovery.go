package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
	workerdomain "github.com/cuongbtq/pricecards/internal/worker/domain"
)

const staleJobMessage = "worker stopped responding"

// JobPublisher puts recovered jobs back on the queue
type JobPublisher interface {
	PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error
}

// runStaleJobRecovery periodically releases jobs left in processing by a worker that died
func (w *Worker) runStaleJobRecovery(ctx context.Context) {
	if w.publisher == nil {
		return
	}

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.recoverStaleJobs(ctx)
		}
	}
}

func (w *Worker) recoverStaleJobs(ctx context.Context) {
	jobs, err := w.storage.RecoverStaleJobs(ctx, w.staleAfter, staleJobMessage)
	if err != nil {
		w.logger.Error("Failed to recover stale jobs", slog.String("error", err.Error()))
		return
	}

	for _, job := range jobs {
		if job.Status != domain.JobStatusPending {
			w.logger.Warn("Stale job exceeded max retries", slog.String("job_id", job.JobID))
			continue
		}

		body, _ := json.Marshal(workerdomain.JobMessage{JobID: job.JobID})
		if err := w.publisher.PublishWithRetry(ctx, job.JobID, body, "application/json"); err != nil {
			w.logger.Error("Failed to requeue stale job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			// Nothing will deliver it again
			if failErr := w.storage.FailJob(ctx, job.JobID, "failed to requeue job"); failErr != nil {
				w.logger.Error("Failed to update job status to failed", slog.String("error", failErr.Error()))
			}
			continue
		}

		w.logger.Info("Stale job requeued", slog.String("job_id", job.JobID))
	}
}
