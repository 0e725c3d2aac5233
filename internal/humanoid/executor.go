// Filename: internal/humanoid/executor.go
package humanoid

import (
	"context"
	"time"
)

// Sleeper waits for a duration unless the context ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper is the production Sleeper.
type TimerSleeper struct{}

// NewTimerSleeper returns a timer based Sleeper.
func NewTimerSleeper() *TimerSleeper {
	return &TimerSleeper{}
}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
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
