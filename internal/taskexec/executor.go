// Package taskexec runs provider interactions with a fixed-delay retry policy.
package taskexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dailystory/internal/clock"
	"dailystory/internal/domain"
	"dailystory/internal/infra"
)

// Func is one attempt of a task.
type Func func(ctx context.Context) (domain.AsyncJob, error)

// RetryExhaustedError is returned after the last attempt failed.
type RetryExhaustedError struct {
	Task     string
	Attempts []domain.Attempt
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempt(s): %v", e.Task, len(e.Attempts), e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Executor retries a task up to a bound with a constant pause between attempts.
type Executor struct {
	Clock  clock.Clock
	Logger *infra.Logger
}

// New builds an executor. Nil arguments fall back to the real clock and a
// discarding logger.
func New(clk clock.Clock, logger *infra.Logger) *Executor {
	return &Executor{Clock: clock.OrReal(clk), Logger: logger}
}

// ExecuteWithRetry calls fn at most maxRetries times and sleeps retryDelay
// before every attempt after the first. Any error from fn counts as a
// retryable failure; a done context ends the loop immediately.
func (e *Executor) ExecuteWithRetry(ctx context.Context, name string, maxRetries int, retryDelay time.Duration, fn Func) (domain.AsyncJob, error) {
	clk := clock.OrReal(e.Clock)
	logger := infra.LoggerOrDiscard(e.Logger)
	if maxRetries < 1 {
		maxRetries = 1
	}

	attempts := make([]domain.Attempt, 0, maxRetries)
	var lastErr error
	for n := 1; n <= maxRetries; n++ {
		if n > 1 {
			if err := clk.Sleep(ctx, retryDelay); err != nil {
				return domain.AsyncJob{}, err
			}
		}
		job, err := fn(ctx)
		if err == nil {
			attempts = append(attempts, domain.Attempt{Number: n, Outcome: domain.AttemptSuccess})
			logger.Info().Str("task", name).Int("attempt", n).Msg("executor: task succeeded")
			return job, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				attempts = append(attempts, domain.Attempt{Number: n, Outcome: domain.AttemptFatalFailure})
				return domain.AsyncJob{}, err
			}
		}
		attempts = append(attempts, domain.Attempt{Number: n, Outcome: domain.AttemptRetryableFailure})
		lastErr = err
		logger.Warn().Err(err).Str("task", name).Int("attempt", n).Int("max_retries", maxRetries).Msg("executor: attempt failed")
	}
	logger.Error().Err(lastErr).Str("task", name).Int("attempts", len(attempts)).Msg("executor: retries exhausted")
	return domain.AsyncJob{}, &RetryExhaustedError{Task: name, Attempts: attempts, Err: lastErr}
}
