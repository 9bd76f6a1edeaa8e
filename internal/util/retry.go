package util

import (
	"context"
	"time"
)

// RetryPolicy runs an operation up to MaxAttempts times. After failed attempt i
// (0-indexed) it waits BaseDelay * 2^i before the next one; the first attempt
// is never delayed and no wait follows the last.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable reports whether err may be retried. Nil treats every error as retryable.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
	// Sleep replaces the timer wait, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait that follows failed attempt i.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay << uint(attempt)
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// It reports the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx, i); err == nil {
			return i + 1, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return i + 1, err
		}
		if i == attempts-1 {
			break
		}
		wait := p.Delay(i)
		if p.OnRetry != nil {
			p.OnRetry(i, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return i + 1, err
		}
	}
	return attempts, err
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
