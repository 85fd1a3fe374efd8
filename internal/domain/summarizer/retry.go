package summarizer

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/yanqian/ai-digest/pkg/errors"
)

// retryPolicy bounds attempts against the model backend.
type retryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// withRetry wraps a fallible model call with capped exponential
// backoff. Only transient failures are retried; permanent failures and
// context cancellation surface immediately. Exhausted retries surface
// as a terminal llm_error wrapping the last transient failure.
func withRetry(ctx context.Context, logger *slog.Logger, policy retryPolicy, call func(context.Context) (string, error)) (string, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.BaseBackoff * time.Duration(1<<(attempt-2))
			if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
				delay = policy.MaxBackoff
			}
			logger.Warn("transient model failure, retrying", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !apperrors.IsTransient(err) {
			return "", err
		}
	}
	return "", apperrors.Wrap("llm_error", "model call failed after retries", lastErr)
}
