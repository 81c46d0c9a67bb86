package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	workerdomain "github.com/cuongbtq/pricecards/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				w.logger.Debug("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			err := w.safeProcessJob(ctx, workerName, msg)
			w.settle(workerName, msg, err)
		}
	}
}

// safeProcessJob keeps a panicking job from taking its worker slot down.
// The job is marked failed and the message is dropped.
func (w *Worker) safeProcessJob(ctx context.Context, workerName string, msg *workerdomain.JobMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job processing panicked",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", workerdomain.ErrJobPanicked, r)

			failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
			defer cancel()
			if failErr := w.storage.FailJob(failCtx, msg.JobID, "internal error"); failErr != nil {
				w.logger.Error("Failed to update job status to failed",
					slog.String("job_id", msg.JobID),
					slog.String("error", failErr.Error()),
				)
			}
		}
	}()

	return w.processJob(ctx, msg)
}

// settle acks successful jobs and nacks failed ones, requeueing only transient failures
func (w *Worker) settle(workerName string, msg *workerdomain.JobMessage, err error) {
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	requeue := w.shouldRequeueJob(err)
	w.logger.Warn("Job processing failed",
		slog.String("worker_name", workerName),
		slog.String("job_id", msg.JobID),
		slog.Bool("requeue", requeue),
		slog.String("error", err.Error()),
	)

	if nackErr := msg.Nack(requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.String("error", nackErr.Error()),
		)
	}
}

// shouldRequeueJob determines if a job should be requeued based on the error type
func (w *Worker) shouldRequeueJob(err error) bool {
	if errors.Is(err, workerdomain.ErrJobAlreadyClaimed) {
		return false
	}
	if errors.Is(err, workerdomain.ErrMaxRetriesExceeded) {
		return false
	}
	if errors.Is(err, workerdomain.ErrInvalidPayload) {
		return false
	}
	if errors.Is(err, workerdomain.ErrJobPanicked) {
		return false
	}

	return workerdomain.IsRetryable(err)
}
