package prompt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dailystory/internal/clock"
	"dailystory/internal/domain"
	"dailystory/internal/infra"
	"dailystory/internal/infra/credentials"
)

// Generator turns a system and user instruction into a derived prompt.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

const (
	defaultOverloadRetries = 3
	defaultOverloadDelay   = 30 * time.Second
	defaultTextTimeout     = 120 * time.Second
)

// verdict tells the failover loop what to do after one completion call.
type verdict int

const (
	verdictDone verdict = iota
	verdictRotate
	verdictRetrySame
	verdictFatal
)

type outcome struct {
	text    string
	verdict verdict
	reason  string
	err     error
}

// completer performs a single completion call with one key.
type completer interface {
	name() string
	complete(ctx context.Context, key string, req domain.GenerationRequest) outcome
}

// FailoverOptions tune the key rotation loop shared by every backend.
type FailoverOptions struct {
	// OverloadRetries bounds consecutive 503 answers tolerated for one key.
	OverloadRetries int
	OverloadDelay   time.Duration
	Clock           clock.Clock
	Logger          *infra.Logger
	OnFallback      func(reason string, err error)
}

type failover struct {
	pool            *credentials.Pool
	overloadRetries int
	overloadDelay   time.Duration
	clock           clock.Clock
	logger          infra.Logger
	onFallback      func(reason string, err error)
}

func newFailover(pool *credentials.Pool, opts FailoverOptions) failover {
	retries := opts.OverloadRetries
	if retries <= 0 {
		retries = defaultOverloadRetries
	}
	delay := opts.OverloadDelay
	if delay <= 0 {
		delay = defaultOverloadDelay
	}
	return failover{
		pool:            pool,
		overloadRetries: retries,
		overloadDelay:   delay,
		clock:           clock.OrReal(opts.Clock),
		logger:          infra.LoggerOrDiscard(opts.Logger),
		onFallback:      opts.OnFallback,
	}
}

// run tries each key at most once, starting at the pool's current key.
func (f *failover) run(ctx context.Context, c completer, req domain.GenerationRequest) (string, error) {
	var lastErr error
	for tried := 0; tried < f.pool.Len(); tried++ {
		key := f.pool.Current()
		out := f.tryKey(ctx, c, key, req)
		switch out.verdict {
		case verdictDone:
			return out.text, nil
		case verdictFatal:
			return "", out.err
		}
		lastErr = out.err
		f.logger.Warn().
			Err(out.err).
			Str("provider", c.name()).
			Str("reason", out.reason).
			Str("key", credentials.Mask(key)).
			Msg("prompt: rotating credential")
		if f.onFallback != nil {
			f.onFallback(out.reason, out.err)
		}
		f.pool.Rotate()
	}
	if lastErr != nil {
		return "", fmt.Errorf("%s: %w: %v", c.name(), domain.ErrExhaustedCredentials, lastErr)
	}
	return "", fmt.Errorf("%s: %w", c.name(), domain.ErrExhaustedCredentials)
}

// tryKey calls the backend with one key, repeating the call while it answers
// "overloaded" up to the configured bound.
func (f *failover) tryKey(ctx context.Context, c completer, key string, req domain.GenerationRequest) outcome {
	for attempt := 1; ; attempt++ {
		out := c.complete(ctx, key, req)
		if out.verdict != verdictRetrySame {
			return out
		}
		if attempt >= f.overloadRetries {
			f.logger.Error().
				Str("provider", c.name()).
				Int("attempts", attempt).
				Msg("prompt: upstream stayed overloaded")
			return outcome{verdict: verdictFatal, err: fmt.Errorf("%s: %w after %d attempts", c.name(), domain.ErrUpstreamOverloaded, attempt)}
		}
		f.logger.Warn().
			Str("provider", c.name()).
			Int("attempt", attempt).
			Dur("delay", f.overloadDelay).
			Msg("prompt: upstream overloaded, retrying same credential")
		if err := f.clock.Sleep(ctx, f.overloadDelay); err != nil {
			return outcome{verdict: verdictFatal, err: err}
		}
	}
}

// transportOutcome classifies a failed HTTP round trip. Cancellation stops the
// loop; anything else moves on to the next key.
func transportOutcome(ctx context.Context, provider string, err error) outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome{verdict: verdictFatal, err: ctxErr}
	}
	if errors.Is(err, context.Canceled) {
		return outcome{verdict: verdictFatal, err: err}
	}
	return outcome{verdict: verdictRotate, reason: "http_request", err: fmt.Errorf("%s: request: %w", provider, err)}
}
