// Package poller observes asynchronously processed jobs until they finish.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
)

const (
	// DefaultMaxAttempts bounds the number of status queries per Poll call
	DefaultMaxAttempts = 30
	// DefaultInterval is the pause between two status queries
	DefaultInterval = 2 * time.Second
)

// StatusFetcher queries the current status of a job.
type StatusFetcher interface {
	GetJobStatus(ctx context.Context, jobID string) (*domain.StatusReport, error)
}

// ProgressFunc receives every status payload the poller observes.
type ProgressFunc func(report *domain.StatusReport)

// Config holds poller configuration
type Config struct {
	MaxAttempts int
	Interval    time.Duration
	Logger      *slog.Logger
}

// Poller repeatedly queries a job status until it is terminal.
// A Poller holds no per-job state and can serve concurrent Poll calls.
type Poller struct {
	fetcher     StatusFetcher
	maxAttempts int
	interval    time.Duration
	logger      *slog.Logger
}

// New creates a poller; zero config values fall back to the defaults.
func New(fetcher StatusFetcher, cfg Config) *Poller {
	p := &Poller{
		fetcher:     fetcher,
		maxAttempts: cfg.MaxAttempts,
		interval:    cfg.Interval,
		logger:      cfg.Logger,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

type pollOptions struct {
	maxAttempts int
	interval    time.Duration
}

// Option overrides poller settings for a single Poll call.
type Option func(*pollOptions)

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *pollOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithInterval overrides the pause between attempts.
func WithInterval(d time.Duration) Option {
	return func(o *pollOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// Poll queries the job status until it reaches completed, failed or error and
// returns that final report. A failed job is returned as a report, not an error.
//
// Query errors are retried after the same interval; the error of the last
// attempt is returned as is. When the budget is spent on non-terminal states
// the returned error matches domain.ErrTimeout. Canceling ctx stops the loop
// before the next query and interrupts the pause between queries.
func (p *Poller) Poll(ctx context.Context, jobID string, onProgress ProgressFunc, opts ...Option) (*domain.StatusReport, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrInvalidInput)
	}

	o := pollOptions{maxAttempts: p.maxAttempts, interval: p.interval}
	for _, opt := range opts {
		opt(&o)
	}

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("polling job %s canceled: %w", jobID, err)
		}

		report, err := p.fetcher.GetJobStatus(ctx, jobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("polling job %s canceled: %w", jobID, ctxErr)
			}

			p.logger.Warn("Job status query failed",
				slog.String("job_id", jobID),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", o.maxAttempts),
				slog.String("error", err.Error()),
			)

			if attempt == o.maxAttempts {
				return nil, fmt.Errorf("polling job %s failed after %d attempts: %w", jobID, attempt, err)
			}
			if err := sleep(ctx, o.interval); err != nil {
				return nil, fmt.Errorf("polling job %s canceled: %w", jobID, err)
			}
			continue
		}

		p.logger.Debug("Job status received",
			slog.String("job_id", jobID),
			slog.Int("attempt", attempt),
			slog.String("status", string(report.Status)),
		)

		if onProgress != nil {
			onProgress(report)
		}

		if report.Status.IsTerminal() {
			return report, nil
		}

		if attempt < o.maxAttempts {
			if err := sleep(ctx, o.interval); err != nil {
				return nil, fmt.Errorf("polling job %s canceled: %w", jobID, err)
			}
		}
	}

	return nil, fmt.Errorf("%w: job %s did not finish after %d attempts", domain.ErrTimeout, jobID, o.maxAttempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
