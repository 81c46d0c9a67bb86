package domain

import "errors"

var (
	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's not pending
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrInvalidPayload is returned for messages or job inputs that can never succeed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrMaxRetriesExceeded is returned when a job has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrJobPanicked is returned when processing a job panicked
	ErrJobPanicked = errors.New("job processing panicked")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
