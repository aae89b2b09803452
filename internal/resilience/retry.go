// Package resilience provides the bounded retry used around every remote call.
//
// [Retry] executes a call and, when it fails with an error the supplied
// predicate accepts as transient, waits base*2^(n-1) before the n-th retry.
// At most Policy.MaxRetries retries happen, so the call runs MaxRetries+1
// times in the worst case. Any other error is returned after the first call.
// Waits honour context cancellation and block only the calling goroutine.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPolicy is returned by [Policy.Validate].
var ErrInvalidPolicy = errors.New("resilience: invalid retry policy")

// Policy configures [Retry]. It is an immutable value.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retrying.
	MaxRetries int

	// BaseDelay is the wait before the first retry. Each following wait
	// doubles.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultPolicy returns three retries starting at one second, which bounds the
// total backoff at seven seconds.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second}
}

// Validate reports whether p is usable.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("max_retries must be >= 0"))
	}
	if p.BaseDelay <= 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("base_delay must be > 0"))
	}
	if p.MaxDelay < 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("max_delay must be >= 0"))
	}
	return nil
}

// Delay returns the wait before retry number n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// WorstCase returns the total time spent waiting when every retry is used.
func (p Policy) WorstCase() time.Duration {
	var total time.Duration
	for n := 1; n <= p.MaxRetries; n++ {
		total += p.Delay(n)
	}
	return total
}

// Options customise a single [Retry] invocation.
type Options struct {
	// Transient decides whether err is retry-eligible. Required.
	Transient func(err error) bool

	// OnRetry, if set, is called before each wait with the 1-based retry
	// number, the error that triggered it and the upcoming delay.
	OnRetry func(n int, err error, delay time.Duration)
}

// Retry runs fn under policy p. It returns fn's first success, the first
// non-transient error, the last transient error once the budget is spent, or
// ctx.Err() if the context ends while waiting.
func Retry[T any](ctx context.Context, p Policy, o Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for n := 0; ; n++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if o.Transient == nil || !o.Transient(err) {
			return zero, err
		}
		if n >= p.MaxRetries {
			return zero, err
		}

		delay := p.Delay(n + 1)
		if o.OnRetry != nil {
			o.OnRetry(n+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
