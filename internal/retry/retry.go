// Package retry runs gateway calls under a bounded attempt budget with linear
// backoff. Validation failures are never retried; context cancellation stops
// the loop immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"assetpipe/internal/config"
	"assetpipe/internal/services"
)

const defaultMaxRetries = 3

// Policy describes how a single call is re-attempted.
type Policy struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int
	// BaseDelay is multiplied by the attempt number to get the wait before the next attempt.
	BaseDelay time.Duration
	// Sleep overrides how waits are performed (useful for tests).
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is invoked after a retryable failure, before the wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// FromConfig builds the policy configured under [retry].
func FromConfig(cfg *config.Config) Policy {
	if cfg == nil {
		return Policy{MaxRetries: defaultMaxRetries, BaseDelay: time.Second}
	}
	return Policy{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: cfg.RetryBaseDelay()}
}

// Attempts returns the effective attempt budget.
func (p Policy) Attempts() int {
	if p.MaxRetries <= 0 {
		return defaultMaxRetries
	}
	return p.MaxRetries
}

// Delay returns the wait before attempt+1: BaseDelay*attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the budget
// runs out. It returns the number of attempts made.
func Do(ctx context.Context, p Policy, op func(context.Context) error) (int, error) {
	_, attempts, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return attempts, err
}

// Value is Do for operations that produce a result. Terminal failures are
// returned as *services.PipelineError; cancellation is returned as the context error.
func Value[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, int, error) {
	var zero T
	budget := p.Attempts()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}
		result, err := op(ctx)
		if err == nil {
			return result, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, attempt, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return zero, attempt, err
		}

		kind := services.Classify(err)
		if !kind.Retryable() || attempt >= budget {
			return zero, attempt, services.NewPipelineError(err, attempt)
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return zero, attempt, err
		}
	}
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
