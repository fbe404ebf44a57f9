package resilience

import (
	"context"
	"time"
)

// RetryPolicy configures [Retry]. The zero value is unusable; use
// [DefaultRetryPolicy] for the standard provider-call policy.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// Factor multiplies the backoff after each failed attempt.
	Factor float64

	// Retryable decides whether an error is worth another attempt. When
	// nil, every error is.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the standard policy for upstream provider
// calls: 3 attempts, exponential backoff from 500ms doubling up to 8s,
// gated by retryable.
func DefaultRetryPolicy(retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Factor:         2,
		Retryable:      retryable,
	}
}

// Retry runs fn up to p.MaxAttempts times, sleeping with exponential backoff
// between attempts. It returns fn's first success, the first non-retryable
// error, or the last error once attempts are exhausted. Context cancellation
// interrupts the backoff sleep and returns ctx.Err().
func Retry[R any](ctx context.Context, p RetryPolicy, fn func() (R, error)) (R, error) {
	var zero R
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	backoff := p.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * p.Factor)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return zero, lastErr
}
