// Package expiry derives the time left on a verification code and drives a
// periodic countdown whose lifetime is bound to a context.
package expiry

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the countdown cadence when none is configured.
const DefaultInterval = time.Second

// Remaining returns the whole seconds left until expiresAt, floored and
// never negative.
func Remaining(expiresAt, now time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// Countdown recomputes Remaining at a fixed cadence. The zero value ticks
// every DefaultInterval against the wall clock.
type Countdown struct {
	Interval time.Duration
	Now      func() time.Time
}

// Run calls onTick with the seconds remaining, once immediately and then
// every Interval, until ctx is done or source reports that no expiry is set.
// Reaching zero does not stop the countdown.
func (c Countdown) Run(ctx context.Context, source func() (time.Time, bool), onTick func(remaining int)) {
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		expiresAt, ok := source()
		if !ok {
			return
		}
		onTick(Remaining(expiresAt, now()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Start runs the countdown on its own goroutine. The returned stop function
// cancels it and blocks until the goroutine has exited, so no tick fires
// after stop returns. stop is idempotent and must not be called from onTick.
func (c Countdown) Start(ctx context.Context, source func() (time.Time, bool), onTick func(remaining int)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, source, onTick)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
