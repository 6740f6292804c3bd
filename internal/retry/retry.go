// Package retry provides the backoff policy shared by the table service
// client and the Go API client. One implementation, two call sites.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy bounds retries by attempt count rather than wall-clock deadline.
// MaxAttempts includes the initial attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// Default returns the policy used across the service: three attempts total,
// 250ms base delay doubled per attempt, ±10% jitter, capped at 5s.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// retryable is implemented by errors that know whether another attempt can
// help. Anything not carrying this signal is treated as permanent.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err (or any error in its chain) declares itself
// retryable.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Delay computes the backoff before retry number attempt (zero-based), with
// jitter applied.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
	}
	if p.Jitter > 0 {
		// Spread in [1-Jitter, 1+Jitter).
		delay *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs op, retrying retryable failures until the attempt ceiling. Conflict
// and validation failures do not carry the retryable signal and therefore
// propagate immediately. The backoff sleep honours ctx cancellation.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	err := op(ctx)
	if err == nil || !IsRetryable(err) {
		return err
	}

	for attempt := 1; attempt < attempts; attempt++ {
		timer := time.NewTimer(p.Delay(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		err = op(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}
