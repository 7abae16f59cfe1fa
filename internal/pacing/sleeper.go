package pacing

import (
	"context"
	"time"
)

// Sleeper abstracts the actual wait so callers can inject a fake in tests
// and so all waits observe context cancellation uniformly.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// CtxSleeper is the production Sleeper: a cancellable timer wait.
type CtxSleeper struct{}

func (CtxSleeper) Sleep(ctx context.Context, d time.Duration) error {
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
