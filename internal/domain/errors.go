package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrCardNotFound is returned when a price card cannot be found in the database
	ErrCardNotFound = errors.New("card not found")

	// ErrJobNotTerminal is returned when an operation requires a finished job
	ErrJobNotTerminal = errors.New("job is not in a terminal state")

	// ErrInvalidInput marks caller mistakes (bad ids, empty text, malformed urls)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNetwork marks requests that could not be sent or whose response could not be read
	ErrNetwork = errors.New("network failure")

	// ErrTimeout is returned when an attempt budget or a probe deadline is exhausted
	ErrTimeout = errors.New("timeout")

	// ErrUnsupportedFormat is returned when fetched media does not decode as the expected kind
	ErrUnsupportedFormat = errors.New("unsupported media format")

	// ErrAllStrategiesFailed is matched by *AllStrategiesFailedError
	ErrAllStrategiesFailed = errors.New("all strategies failed")
)

// BackendError is a non-2xx response carrying the backend's message.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend error: status %d: %s", e.StatusCode, e.Message)
}

// StrategyError records why a single media strategy failed.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return e.Strategy + ": " + e.Err.Error()
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// AllStrategiesFailedError aggregates every strategy failure for one media reference.
type AllStrategiesFailedError struct {
	Kind     MediaKind
	URL      string
	Failures []*StrategyError
}

func (e *AllStrategiesFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("all strategies failed for %s %s: [%s]", e.Kind, e.URL, strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrAllStrategiesFailed) match.
func (e *AllStrategiesFailedError) Is(target error) bool {
	return target == ErrAllStrategiesFailed
}

// Unwrap exposes the individual strategy failures to errors.Is and errors.As.
func (e *AllStrategiesFailedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
