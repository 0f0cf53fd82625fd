package policy

import (
	"context"
	"errors"
	"fmt"
)

// Classification determines how the retry loop treats an error.
// Callers at the task boundary classify every error explicitly so the loop
// never has to inspect provider-specific error types.
type Classification string

const (
	// ClassRetryable marks transient failures: throttling, transient
	// service unavailability, network errors.
	ClassRetryable Classification = "retryable"

	// ClassFatal marks failures that will not succeed on retry:
	// malformed input, schemas the service cannot satisfy, cancellation.
	ClassFatal Classification = "fatal"

	// ClassTimeout marks an attempt that exceeded its per-attempt bound.
	// Timeouts are retried like retryable errors but reported distinctly.
	ClassTimeout Classification = "timeout"
)

type classifiedError struct {
	class Classification
	err   error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.class, e.err)
}

func (e *classifiedError) Unwrap() error { return e.err }

// Retryable wraps err as transient. The retry loop will re-attempt it
// while the attempt budget lasts.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassRetryable, err: err}
}

// Fatal wraps err as permanent. The retry loop stops immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassFatal, err: err}
}

// Timeout wraps err as a per-attempt timeout.
func Timeout(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassTimeout, err: err}
}

// Classify returns the classification of err.
// Unwrapped context cancellation is fatal (the caller gave up); an
// unclassified error defaults to retryable, bounded by the attempt
// budget either way.
func Classify(err error) Classification {
	if err == nil {
		return ""
	}
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassRetryable
}
