package application

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/devbush/docscribe/internal/domain"
)

// RetryPolicy bounds retries of a provider call
type RetryPolicy struct {
	MaxAttempts int // total attempts, including the first
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 5 attempts starting at 2s, capped at 60s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
}

// Retrier retries transient provider failures with exponential backoff.
// Rate limit errors add random jitter; API and connection errors do not.
type Retrier struct {
	policy  RetryPolicy
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64 // in [0, 1)
	onRetry func(attempt int, err error, delay time.Duration)
}

// RetryOption customizes a Retrier
type RetryOption func(*Retrier)

// WithSleep replaces the sleep function, for tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *Retrier) { r.sleep = sleep }
}

// WithJitter replaces the jitter source, for tests
func WithJitter(jitter func() float64) RetryOption {
	return func(r *Retrier) { r.jitter = jitter }
}

// WithRetryHook is called before each backoff sleep
func WithRetryHook(fn func(attempt int, err error, delay time.Duration)) RetryOption {
	return func(r *Retrier) { r.onRetry = fn }
}

// NewRetrier creates a Retrier for policy. At least one attempt is always made.
func NewRetrier(policy RetryPolicy, opts ...RetryOption) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r := &Retrier{
		policy: policy,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn until it succeeds, fails with a non-transient error, or the attempt
// budget is spent. fn receives the 1-based attempt number. Do returns the number
// of attempts made and the last error.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !r.Retryable(attempt, err) {
			return attempt, err
		}

		delay := r.Delay(attempt, err)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return attempt, errors.Join(err, serr)
		}
	}
	return r.policy.MaxAttempts, err
}

// Retryable reports whether Do will try again after err on the given attempt
func (r *Retrier) Retryable(attempt int, err error) bool {
	return domain.IsTransient(err) && attempt < r.policy.MaxAttempts
}

// Delay returns the backoff after the given failed attempt: base·2^(attempt-1)
// capped at MaxDelay, plus jitter in [0, delay/2) for rate limits.
func (r *Retrier) Delay(attempt int, err error) time.Duration {
	delay := r.policy.BaseDelay
	for i := 1; i < attempt && delay < r.policy.MaxDelay; i++ {
		delay *= 2
	}
	if r.policy.MaxDelay > 0 && delay > r.policy.MaxDelay {
		delay = r.policy.MaxDelay
	}
	if errors.Is(err, domain.ErrRateLimited) {
		delay += time.Duration(r.jitter() * float64(delay) / 2)
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
