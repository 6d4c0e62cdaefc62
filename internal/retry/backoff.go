// Package retry runs operations under an exponential backoff policy with
// jitter and context-aware waits.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes how often and how far apart attempts are made.
// Attempt numbers are 1-based.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // zero means uncapped
	Multiplier  float64
	Jitter      float64 // fraction of the delay, e.g. 0.25 for ±25%

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Delay returns the wait after a failed attempt:
// BaseDelay × Multiplier^(attempt-1), capped, then spread by ±Jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Do calls fn until it succeeds, retryable reports false, or MaxAttempts is
// reached. It returns the number of attempts made and the last error.
// A nil retryable treats every error as retryable.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, retryable func(err error, attempt int) bool) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == maxAttempts {
			return attempt, lastErr
		}
		if retryable != nil && !retryable(lastErr, attempt) {
			return attempt, lastErr
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, delay)
		}
		if err := Sleep(ctx, delay); err != nil {
			return attempt, fmt.Errorf("retry cancelled after attempt %d: %w", attempt, lastErr)
		}
	}
	return maxAttempts, lastErr
}
