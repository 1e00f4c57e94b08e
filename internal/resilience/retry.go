package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 40 * time.Second
)

// RetryPolicy wraps an operation in bounded retries with exponential
// backoff and jitter. It retries every error; callers decide whether the
// wrapped operation is safe to repeat.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	sleep func(ctx context.Context, d time.Duration) error // overridable in tests
}

// NewRetryPolicy creates a policy; non-positive parameters fall back to
// the defaults.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		sleep:       sleepCtx,
	}
}

// Backoff returns the delay before retrying after attempt n (1-based):
// min(maxDelay, baseDelay·2ⁿ + U[0, baseDelay)).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	//nolint:gosec // jitter does not need crypto randomness
	jitter := rand.Float64() * float64(p.BaseDelay)
	d := exp + jitter
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// Execute runs op up to MaxAttempts times, sleeping the backoff between
// attempts. The last error is propagated unchanged; context cancellation
// during a backoff wait aborts with the context's error.
func (p *RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.Backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
