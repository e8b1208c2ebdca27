// Package poll provides bounded polling schedules with context-aware waits.
package poll

import (
	"context"
	"time"
)

// Schedule describes a bounded poll: Attempts observations, the first Fast of
// them preceded by FastDelay and the rest by SlowDelay.
type Schedule struct {
	Attempts  int           `yaml:"attempts"`
	Fast      int           `yaml:"fast"`
	FastDelay time.Duration `yaml:"fast_delay"`
	SlowDelay time.Duration `yaml:"slow_delay"`
}

// Delay returns the wait before the given zero-based attempt.
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt < s.Fast {
		return s.FastDelay
	}
	return s.SlowDelay
}

// Last reports whether attempt is the final one.
func (s Schedule) Last(attempt int) bool {
	return attempt >= s.Attempts-1
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep returns immediately unless ctx is already done. Tests use it to run
// schedules without waiting.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Run waits before each attempt and calls fn until it reports done, returns
// an error, or the schedule is exhausted. It reports whether fn finished.
func Run(ctx context.Context, s Schedule, sleep SleepFunc, fn func(attempt int) (bool, error)) (bool, error) {
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 0; attempt < s.Attempts; attempt++ {
		if err := sleep(ctx, s.Delay(attempt)); err != nil {
			return false, err
		}
		done, err := fn(attempt)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
	}
	return false, nil
}
