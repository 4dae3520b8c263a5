package jobs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrJobAlreadyExists signals that equivalent work is already scheduled.
	// Callers treat it as success.
	ErrJobAlreadyExists = errors.New("jobs: job already exists")
	// ErrJobNotFound is returned by lookups that match no row.
	ErrJobNotFound = errors.New("jobs: job not found")
	// ErrJobNotClaimed rejects finish/release on a job this caller no longer holds.
	ErrJobNotClaimed = errors.New("jobs: job is not claimed")
	// ErrInterrupted is the cancellation cause for cooperatively aborted jobs.
	ErrInterrupted = errors.New("jobs: interrupted")
)

// NoRetryError marks a handler failure that must not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps err so the worker fails the job permanently.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &NoRetryError{Err: err}
}

// Retryable reports whether a handler error should put the job back in the queue.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInterrupted) {
		return false
	}
	var nr *NoRetryError
	return !errors.As(err, &nr)
}

// CheckInterrupt returns ErrInterrupted when ctx was cancelled with that cause.
// Producers call it before each expensive round trip.
func CheckInterrupt(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); errors.Is(cause, ErrInterrupted) {
		return ErrInterrupted
	}
	return ctx.Err()
}
