package artifact

import (
	"context"
	"fmt"
	"time"

	"dailystory/internal/clock"
	"dailystory/internal/domain"
	"dailystory/internal/infra"
)

// WaitOptions configure WaitUntilDone.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	Clock    clock.Clock
	Logger   *infra.Logger
}

// WaitUntilDone polls h every Interval until the job is terminal or Timeout
// elapses. The first poll happens immediately. A failed job yields
// *domain.TaskFailedError, an expired budget *domain.TaskTimeoutError. Poll
// errors are returned as is so the caller decides whether to retry. Every
// observed status goes through domain.AsyncJob.Transition, so a status outside
// the lifecycle is an error rather than an endless wait.
func WaitUntilDone(ctx context.Context, p Poller, h Handle, opts WaitOptions) (domain.AsyncJob, error) {
	clk := clock.OrReal(opts.Clock)
	logger := infra.LoggerOrDiscard(opts.Logger)
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	deadline := clk.Now().Add(opts.Timeout)
	tracked := domain.AsyncJob{ID: h.JobID, Status: domain.JobStatusPending}
	polls := 0
	for clk.Now().Before(deadline) {
		job, err := p.Poll(ctx, h)
		polls++
		if err != nil {
			return domain.AsyncJob{}, err
		}
		if err := tracked.Transition(job.Status); err != nil {
			return domain.AsyncJob{}, fmt.Errorf("%s: %w", h.Provider, err)
		}
		switch job.Status {
		case domain.JobStatusSucceeded:
			logger.Debug().Str("provider", h.Provider).Str("job_id", h.JobID).Int("polls", polls).Msg("artifact: job succeeded")
			return job, nil
		case domain.JobStatusFailed:
			reason := job.FailureReason
			if reason == "" {
				reason = domain.UnknownFailureReason
			}
			return job, &domain.TaskFailedError{JobID: h.JobID, Reason: reason}
		}
		logger.Debug().Str("provider", h.Provider).Str("job_id", h.JobID).Str("status", string(job.Status)).Int("polls", polls).Msg("artifact: job not finished")
		if err := clk.Sleep(ctx, interval); err != nil {
			return domain.AsyncJob{}, err
		}
	}
	return domain.AsyncJob{}, &domain.TaskTimeoutError{JobID: h.JobID, Timeout: opts.Timeout, Last: tracked.Status}
}
