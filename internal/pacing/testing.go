package pacing

import (
	"context"
	"time"
)

// FakeSleeper records requested durations instead of waiting, for
// deterministic tests of code that paces itself through a Sleeper.
type FakeSleeper struct {
	Slept []time.Duration
}

func (f *FakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Slept = append(f.Slept, d)
	return nil
}
