package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/extract"
	workerdomain "github.com/cuongbtq/pricecards/internal/worker/domain"
	"github.com/cuongbtq/pricecards/internal/worker/storage"
	"github.com/cuongbtq/pricecards/shared/objectstore"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobStorage is the job table as seen by the worker
type JobStorage interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error
	FailJob(ctx context.Context, jobID, errorMsg string) error
	RetryJob(ctx context.Context, jobID, errorMsg string) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
	RecoverStaleJobs(ctx context.Context, staleAfter time.Duration, errorMsg string) ([]storage.StaleJob, error)
}

// FileLoader reads uploaded files
type FileLoader interface {
	GetObject(ctx context.Context, key string, maxBytes int64) ([]byte, *objectstore.ObjectInfo, error)
}

// MessageSource delivers job messages
type MessageSource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	WorkerID          string
	Storage           JobStorage
	Files             FileLoader
	Extractor         extract.Extractor
	Source            MessageSource
	Publisher         JobPublisher // nil disables stale job recovery
	QueueName         string
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	MaxFileBytes      int64
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	workerID          string
	storage           JobStorage
	files             FileLoader
	extractor         extract.Extractor
	source            MessageSource
	publisher         JobPublisher
	rabbitMQQueueName string
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	staleAfter        time.Duration
	maxFileBytes      int64

	jobsChan chan *workerdomain.JobMessage
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 3 * time.Minute
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= heartbeat {
		staleAfter = 3 * heartbeat
	}
	maxFileBytes := cfg.MaxFileBytes
	if maxFileBytes <= 0 {
		maxFileBytes = 20 << 20
	}

	return &Worker{
		logger:            cfg.Logger,
		workerID:          cfg.WorkerID,
		storage:           cfg.Storage,
		files:             cfg.Files,
		extractor:         cfg.Extractor,
		source:            cfg.Source,
		publisher:         cfg.Publisher,
		rabbitMQQueueName: cfg.QueueName,
		concurrency:       concurrency,
		jobTimeout:        jobTimeout,
		heartbeatInterval: heartbeat,
		staleAfter:        staleAfter,
		maxFileBytes:      maxFileBytes,
		jobsChan:          make(chan *workerdomain.JobMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes and processes jobs until ctx is canceled, Stop is called
// or the delivery channel closes. It returns after the pool has drained.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	recoveryCtx, stopRecovery := context.WithCancel(ctx)
	recoveryDone := make(chan struct{})
	go func() {
		defer close(recoveryDone)
		w.runStaleJobRecovery(recoveryCtx)
	}()

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	stopRecovery()
	<-recoveryDone

	// The dispatcher is the only sender
	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return nil
}

// Stop asks the dispatcher to stop; in-flight jobs finish first
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
