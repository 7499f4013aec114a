package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy is an exponential backoff bounded by a number of attempts.
type RetryPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	// AttemptTimeout bounds each attempt; 0 disables it.
	AttemptTimeout time.Duration
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// RetryAfter asks the policy to wait at least d before the next attempt,
// e.g. when a platform answers 429 with a Retry-After header.
func RetryAfter(d time.Duration) error {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return backoff.RetryAfter(secs)
}

// Do runs op until it succeeds, fails permanently, ctx ends or the
// attempts are used up. onRetry (optional) is called before each wait with
// the attempt number that failed. The error of the last attempt is returned.
func Do[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error), onRetry func(attempt int, err error, wait time.Duration)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.MaxInterval = p.Cap
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.1

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	n := 0
	wrapped := func() (T, error) {
		n++
		actx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}
		v, err := op(actx)
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(time.Duration(attempts)*(p.Cap+p.AttemptTimeout) + time.Minute),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			onRetry(n, err, wait)
		}))
	}
	return backoff.Retry(ctx, wrapped, opts...)
}
