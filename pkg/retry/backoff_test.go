package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithBackoffStopsAtAttemptBudget(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := WithBackoff(context.Background(), testConfig(), zaptest.NewLogger(t), "connect", func() error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestWithBackoffStopsOnSuccess(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), testConfig(), zaptest.NewLogger(t), "connect", func() error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestWithBackoffHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithBackoff(ctx, testConfig(), zaptest.NewLogger(t), "connect", func() error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDelayGrowsAndCaps(t *testing.T) {
	cfg := testConfig()
	d := cfg.InitialDelay

	d = nextDelay(d, cfg)
	require.Equal(t, 2*time.Millisecond, d)
	d = nextDelay(d, cfg)
	require.Equal(t, 4*time.Millisecond, d)
	d = nextDelay(d, cfg)
	require.Equal(t, cfg.MaxDelay, d)
}

func TestJitterStaysWithinSpread(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jittered(10*time.Millisecond, 0.2)
		require.GreaterOrEqual(t, d, 8*time.Millisecond)
		require.LessOrEqual(t, d, 12*time.Millisecond)
	}
	require.Equal(t, 10*time.Millisecond, jittered(10*time.Millisecond, 0))
}
