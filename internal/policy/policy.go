// Package policy provides the bounded retry/timeout execution primitive
// used by every language-service call in the pipeline. It knows nothing
// about extraction semantics: it runs an operation under a Policy and
// reports a classified Outcome.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

// Policy bounds a single fallible operation.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts uint `mapstructure:"max_attempts" yaml:"max_attempts"`

	// Backoff is the ordered wait sequence between attempts.
	// Backoff[n] is waited after attempt n+1 fails. When attempts exceed
	// the sequence length the last entry repeats.
	Backoff []time.Duration `mapstructure:"backoff" yaml:"backoff"`

	// AttemptTimeout bounds each individual attempt. An attempt that does
	// not complete within this bound is cancelled and counted as a timeout.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
}

// Validate checks the policy for internal consistency.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt_timeout must be positive, got %v", p.AttemptTimeout)
	}
	if want := int(p.MaxAttempts) - 1; len(p.Backoff) > want {
		return fmt.Errorf("backoff sequence longer than max_attempts-1 (%d > %d)", len(p.Backoff), want)
	}
	return nil
}

// delay returns the wait after the n-th failed attempt (0-based).
func (p Policy) delay(n uint) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if int(n) >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[n]
}

// Status is the terminal state of a policy run.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusRetryExhausted Status = "retry_exhausted"
	StatusFatal          Status = "fatal"
	StatusTimedOut       Status = "timed_out"
)

// Outcome describes how a policy run terminated. It is transient: used to
// drive orchestrator decisions and caller-visible reporting, never persisted.
type Outcome struct {
	Status   Status
	Attempts int
	Elapsed  time.Duration
	Class    Classification
	Err      error
}

// Failed reports whether the run ended without a result.
func (o Outcome) Failed() bool {
	return o.Status != StatusSucceeded
}

// Run executes op under the policy: up to MaxAttempts attempts, each
// bounded by AttemptTimeout, with the configured backoff between attempts.
// A fatal classification stops the loop immediately; parent context
// cancellation stops it regardless of remaining budget.
func Run[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, Outcome) {
	start := time.Now()
	attempts := 0

	value, err := retry.DoWithData(
		func() (T, error) {
			attempts++
			attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()

			v, opErr := op(attemptCtx)
			if opErr != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				// The attempt bound fired, not the caller's deadline.
				opErr = Timeout(opErr)
			}
			return v, opErr
		},
		retry.Context(ctx),
		retry.Attempts(p.MaxAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return Classify(err) != ClassFatal
		}),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return p.delay(n)
		}),
	)

	outcome := Outcome{
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}

	if err == nil {
		outcome.Status = StatusSucceeded
		return value, outcome
	}

	outcome.Err = err
	outcome.Class = Classify(err)

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		// The flow-level ceiling fired; remaining retry budget is moot.
		outcome.Status = StatusTimedOut
	case outcome.Class == ClassFatal:
		outcome.Status = StatusFatal
	default:
		outcome.Status = StatusRetryExhausted
	}

	return value, outcome
}
