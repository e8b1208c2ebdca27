package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleDelay(t *testing.T) {
	s := Schedule{Attempts: 12, Fast: 4, FastDelay: 110 * time.Millisecond, SlowDelay: 170 * time.Millisecond}
	assert.Equal(t, 110*time.Millisecond, s.Delay(0))
	assert.Equal(t, 110*time.Millisecond, s.Delay(3))
	assert.Equal(t, 170*time.Millisecond, s.Delay(4))
	assert.True(t, s.Last(11))
	assert.False(t, s.Last(10))
}

func TestRun(t *testing.T) {
	s := Schedule{Attempts: 5, Fast: 2, FastDelay: time.Second, SlowDelay: 2 * time.Second}

	t.Run("stops when done", func(t *testing.T) {
		var delays []time.Duration
		sleep := func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}
		done, err := Run(context.Background(), s, sleep, func(attempt int) (bool, error) {
			return attempt == 2, nil
		})
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, []time.Duration{time.Second, time.Second, 2 * time.Second}, delays)
	})

	t.Run("exhausts budget", func(t *testing.T) {
		calls := 0
		done, err := Run(context.Background(), s, NoSleep, func(attempt int) (bool, error) {
			calls++
			return false, nil
		})
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, 5, calls)
	})

	t.Run("propagates errors", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Run(context.Background(), s, NoSleep, func(attempt int) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		_, err := Run(ctx, s, Sleep, func(attempt int) (bool, error) {
			calls++
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})
}
