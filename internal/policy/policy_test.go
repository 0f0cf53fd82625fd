package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"retryable wrapper", Retryable(base), ClassRetryable},
		{"fatal wrapper", Fatal(base), ClassFatal},
		{"timeout wrapper", Timeout(base), ClassTimeout},
		{"context canceled", context.Canceled, ClassFatal},
		{"context deadline", context.DeadlineExceeded, ClassTimeout},
		{"unclassified defaults to retryable", base, ClassRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifiedErrorUnwraps(t *testing.T) {
	base := errors.New("service unavailable")
	wrapped := Retryable(base)
	if !errors.Is(wrapped, base) {
		t.Error("expected wrapped error to unwrap to base")
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p := Policy{MaxAttempts: 3, Backoff: []time.Duration{time.Second, 2 * time.Second}, AttemptTimeout: time.Minute}
		if err := p.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("zero attempts", func(t *testing.T) {
		p := Policy{AttemptTimeout: time.Minute}
		if err := p.Validate(); err == nil {
			t.Error("expected error for zero attempts")
		}
	})

	t.Run("backoff too long", func(t *testing.T) {
		p := Policy{MaxAttempts: 2, Backoff: []time.Duration{1, 2, 3}, AttemptTimeout: time.Minute}
		if err := p.Validate(); err == nil {
			t.Error("expected error for oversized backoff")
		}
	})
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 3, AttemptTimeout: time.Second}

	v, outcome := Run(context.Background(), p, func(ctx context.Context) (string, error) {
		return "ok", nil
	})

	if v != "ok" {
		t.Errorf("value = %q, want ok", v)
	}
	if outcome.Status != StatusSucceeded {
		t.Errorf("status = %s, want succeeded", outcome.Status)
	}
	if outcome.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", outcome.Attempts)
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: []time.Duration{time.Millisecond, time.Millisecond}, AttemptTimeout: time.Second}

	calls := 0
	v, outcome := Run(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, Retryable(errors.New("transient"))
		}
		return 42, nil
	})

	if v != 42 {
		t.Errorf("value = %d, want 42", v)
	}
	if outcome.Status != StatusSucceeded {
		t.Errorf("status = %s, want succeeded", outcome.Status)
	}
	if outcome.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", outcome.Attempts)
	}
}

func TestRunFatalStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: []time.Duration{time.Millisecond}, AttemptTimeout: time.Second}

	calls := 0
	_, outcome := Run(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, Fatal(errors.New("malformed input"))
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (fatal must not retry)", calls)
	}
	if outcome.Status != StatusFatal {
		t.Errorf("status = %s, want fatal", outcome.Status)
	}
	if outcome.Class != ClassFatal {
		t.Errorf("class = %s, want fatal", outcome.Class)
	}
}

func TestRunExhaustsRetryableAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: []time.Duration{time.Millisecond, time.Millisecond}, AttemptTimeout: time.Second}

	calls := 0
	_, outcome := Run(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, Retryable(errors.New("still down"))
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if outcome.Status != StatusRetryExhausted {
		t.Errorf("status = %s, want retry_exhausted", outcome.Status)
	}
	if outcome.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", outcome.Attempts)
	}
}

func TestRunAttemptTimeoutCountsAndRetries(t *testing.T) {
	p := Policy{MaxAttempts: 2, Backoff: []time.Duration{5 * time.Millisecond}, AttemptTimeout: 20 * time.Millisecond}

	calls := 0
	_, outcome := Run(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done() // simulate an operation that never returns in time
		return 0, ctx.Err()
	})

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (timeout consumes an attempt, then retries)", calls)
	}
	if outcome.Status != StatusRetryExhausted {
		t.Errorf("status = %s, want retry_exhausted", outcome.Status)
	}
	if outcome.Class != ClassTimeout {
		t.Errorf("class = %s, want timeout", outcome.Class)
	}
}

func TestRunParentDeadlineIsCeiling(t *testing.T) {
	// Generous retry budget, but a tight flow-level deadline.
	p := Policy{MaxAttempts: 10, Backoff: []time.Duration{50 * time.Millisecond}, AttemptTimeout: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, outcome := Run(ctx, p, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	elapsed := time.Since(start)

	if outcome.Status != StatusTimedOut {
		t.Errorf("status = %s, want timed_out", outcome.Status)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("run overshot flow deadline: %v", elapsed)
	}
}

func TestRunParentCancellationIsFatal(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: []time.Duration{time.Second}, AttemptTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Outcome, 1)
	go func() {
		_, outcome := Run(ctx, p, func(ctx context.Context) (int, error) {
			return 0, Retryable(errors.New("transient"))
		})
		done <- outcome
	}()

	// Cancel while the loop waits out its first backoff.
	time.Sleep(20 * time.Millisecond)
	cancel()

	outcome := <-done
	if outcome.Status != StatusFatal {
		t.Errorf("status = %s, want fatal for cancelled parent", outcome.Status)
	}
}

func TestDelaySequence(t *testing.T) {
	p := Policy{MaxAttempts: 4, Backoff: []time.Duration{10 * time.Second, 30 * time.Second}, AttemptTimeout: time.Minute}

	if d := p.delay(0); d != 10*time.Second {
		t.Errorf("delay(0) = %v, want 10s", d)
	}
	if d := p.delay(1); d != 30*time.Second {
		t.Errorf("delay(1) = %v, want 30s", d)
	}
	// Past the end of the sequence the last entry repeats.
	if d := p.delay(5); d != 30*time.Second {
		t.Errorf("delay(5) = %v, want 30s", d)
	}
}
