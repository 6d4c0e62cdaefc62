package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPolicy_DelayWithoutJitter(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Delay(5))
}

func TestPolicy_DelayJitterBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		attempt := rapid.IntRange(1, 6).Draw(rt, "attempt")
		jitter := rapid.Float64Range(0, 0.5).Draw(rt, "jitter")
		p := Policy{BaseDelay: time.Second, Multiplier: 2, Jitter: jitter}

		nominal := float64(time.Second) * float64(int(1)<<(attempt-1))
		d := float64(p.Delay(attempt))
		if d < nominal*(1-jitter)-1 || d > nominal*(1+jitter)+1 {
			rt.Fatalf("delay %v outside ±%.2f of %v", time.Duration(d), jitter, time.Duration(nominal))
		}
	})
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var retried []int
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, OnRetry: func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}}

	attempts, err := Do(context.Background(), p, func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond},
		func(context.Context, int) error {
			calls++
			return fatal
		},
		func(err error, _ int) bool { return !errors.Is(err, fatal) })

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		func(context.Context, int) error { return boom }, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")

	start := time.Now()
	attempts, err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour},
		func(context.Context, int) error {
			cancel()
			return boom
		}, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
