package run

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/threadpass/pipeline/pkg/core"
)

// RetryConfig holds configuration for retrying transient storage and
// connector failures with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the backoff after each attempt.
	BackoffMultiplier float64

	// JitterFraction is the fraction of backoff to randomize (0.0 to 1.0).
	JitterFraction float64

	// OpTimeout bounds each individual attempt. Zero means no per-attempt
	// timeout.
	OpTimeout time.Duration
}

// DefaultRetryConfig returns the retry configuration chunk-level storage
// operations run under.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
		OpTimeout:         10 * time.Second,
	}
}

// retryWithBackoff executes the operation with exponential backoff on
// failure. Fatal errors and context cancellation are returned
// immediately; everything else is assumed transient until attempts are
// exhausted.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func(ctx context.Context) error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if config.OpTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, config.OpTimeout)
		}
		lastErr = operation(attemptCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		if _, fatal := core.IsFatal(lastErr); fatal {
			return lastErr
		}
		if attempt >= config.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(backoff) * config.JitterFraction * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return lastErr
}
