package genai

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds generator retries: exponential delay with jitter, only
// for errors classified retryable.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy allows two retries starting at three seconds.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 2, BaseDelay: 3 * time.Second, MaxDelay: 30 * time.Second}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	return b
}

// retry runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent.
func retry[T any](ctx context.Context, p RetryPolicy, notify func(error, time.Duration), fn func() (T, error)) (T, error) {
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	op := func() (T, error) {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		var gerr *GenerationError
		if errors.As(err, &gerr) && gerr.Retryable() {
			return res, err
		}
		return res, backoff.Permanent(err)
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	res, err := backoff.Retry(ctx, op, opts...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return res, err
}
