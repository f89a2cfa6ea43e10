// Package retry wraps a fallible operation with bounded attempts and
// exponential backoff. The wrapped function is one atomic unit per attempt;
// callers that need per-step resumption must persist their own checkpoints.
package retry

import (
	"context"
	"time"
)

type Retrier struct {
	MaxAttempts int

	sleep func(time.Duration)
}

func New(maxAttempts int) *Retrier {
	return &Retrier{
		MaxAttempts: maxAttempts,
		sleep:       time.Sleep,
	}
}

// NewWithSleep substitutes the backoff sleep, so tests can observe delays
// without waiting them out.
func NewWithSleep(maxAttempts int, sleep func(time.Duration)) *Retrier {
	return &Retrier{
		MaxAttempts: maxAttempts,
		sleep:       sleep,
	}
}

// Do runs fn up to MaxAttempts times. After attempt k fails (k < MaxAttempts)
// it calls onRetry(k), sleeps 2^k seconds and tries again. The first success
// propagates immediately; exhaustion returns the last error.
func Do[T any](ctx context.Context, r *Retrier, fn func(context.Context) (T, error), onRetry func(attempt int)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == r.MaxAttempts {
			break
		}

		if onRetry != nil {
			onRetry(attempt)
		}

		r.sleep(time.Duration(1<<attempt) * time.Second)

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}
