package scheduler

import (
	"context"
	"sync"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

// TimeWarp drives a scheduler on a fake clock. Time only moves when Advance
// is called, and every fire time passed on the way is ticked in order.
type TimeWarp struct {
	mu        sync.Mutex
	scheduler *Scheduler
	clock     *clocktesting.FakeClock
}

// NewTimeWarp moves s onto clk.
func NewTimeWarp(s *Scheduler, clk *clocktesting.FakeClock) *TimeWarp {
	s.WithClock(clk)
	return &TimeWarp{scheduler: s, clock: clk}
}

func (w *TimeWarp) Now() time.Time {
	return w.clock.Now()
}

// Trigger emits a manual event for watchID at the current virtual time.
func (w *TimeWarp) Trigger(ctx context.Context, watchID string) (domain.TriggerEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scheduler.Trigger(ctx, watchID)
}

// Advance moves the clock forward by d, stopping at each due fire time to
// tick. It returns the number of events emitted.
func (w *TimeWarp) Advance(ctx context.Context, d time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	target := w.clock.Now().Add(d)
	emitted := 0
	for ctx.Err() == nil {
		next, ok := w.scheduler.nextDue()
		if !ok || next.After(target) {
			break
		}
		if next.After(w.clock.Now()) {
			w.clock.SetTime(next)
		}
		emitted += w.scheduler.Tick(ctx)
	}
	w.clock.SetTime(target)
	emitted += w.scheduler.Tick(ctx)
	return emitted
}
