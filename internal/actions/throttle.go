package actions

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

type throttleKey struct {
	watchID  string
	actionID string
}

type throttleEntry struct {
	period  time.Duration
	limiter *rate.Limiter
}

// Throttler allows an action at most once per throttle period, per watch.
// Limiters are measured on the injected clock so time-warped runs throttle
// on virtual time.
type Throttler struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	entries map[throttleKey]*throttleEntry
}

func NewThrottler(c clock.PassiveClock) *Throttler {
	return &Throttler{clock: c, entries: make(map[throttleKey]*throttleEntry)}
}

// Allow consumes the action's slot if it is free. Actions without a
// throttle period are always allowed.
func (t *Throttler) Allow(watchID string, spec domain.ActionSpec) (bool, string) {
	if spec.ThrottlePeriod <= 0 {
		return true, ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := throttleKey{watchID: watchID, actionID: spec.ID}
	e, ok := t.entries[key]
	if !ok || e.period != spec.ThrottlePeriod {
		e = &throttleEntry{period: spec.ThrottlePeriod, limiter: rate.NewLimiter(rate.Every(spec.ThrottlePeriod), 1)}
		t.entries[key] = e
	}

	if e.limiter.AllowN(t.clock.Now(), 1) {
		return true, ""
	}
	return false, fmt.Sprintf("throttling period is %s", spec.ThrottlePeriod)
}

// Forget drops the throttle state of every action of a watch.
func (t *Throttler) Forget(watchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.entries {
		if k.watchID == watchID {
			delete(t.entries, k)
		}
	}
}
