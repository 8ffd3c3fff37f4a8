package scheduler

import (
	"context"
	"time"
)

// Sleeper abstracts the protocol's delay points so tests can inject a fake
// clock instead of waiting out real backoffs.
type Sleeper interface {
	// Sleep waits for d or until the context is done, returning ctx.Err() in
	// the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper implements Sleeper with wall-clock timers.
type RealSleeper struct{}

// Sleep waits for d or until the context is cancelled.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
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

// SleeperFunc adapts a function to the Sleeper interface (useful for tests).
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements the Sleeper interface.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	if f == nil {
		return nil
	}
	return f(ctx, d)
}
