// Package circuitbreaker stops calling a webhook target after repeated
// failures and lets a single probe through once the cooldown has passed.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/utils/clock"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type target struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks targets independently, keyed by an opaque string (the
// webhook URL).
type Breaker struct {
	mu        sync.Mutex
	targets   map[string]*target
	threshold int
	cooldown  time.Duration
	clock     clock.PassiveClock
}

// New returns a breaker that opens after threshold consecutive failures.
// A threshold below 1 disables the breaker.
func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		targets:   make(map[string]*target),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock.RealClock{},
	}
}

func (b *Breaker) WithClock(c clock.PassiveClock) *Breaker {
	b.clock = c
	return b
}

// Allow returns ErrCircuitOpen while key is open, and while a half-open
// probe is in flight.
func (b *Breaker) Allow(key string) error {
	if b.threshold < 1 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.targets[key]
	if !ok {
		return nil
	}

	switch t.state {
	case StateOpen:
		if b.clock.Since(t.openedAt) >= b.cooldown {
			t.state = StateHalfOpen
			return nil
		}
		return errors.Wrapf(ErrCircuitOpen, "%s", key)
	case StateHalfOpen:
		return errors.Wrapf(ErrCircuitOpen, "%s: probe in flight", key)
	default:
		return nil
	}
}

func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.targets[key]; ok {
		t.state = StateClosed
		t.consecutiveFailures = 0
	}
}

func (b *Breaker) RecordFailure(key string) {
	if b.threshold < 1 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.targets[key]
	if !ok {
		t = &target{state: StateClosed}
		b.targets[key] = t
	}

	t.consecutiveFailures++
	if t.state == StateHalfOpen || t.consecutiveFailures >= b.threshold {
		t.state = StateOpen
		t.openedAt = b.clock.Now()
	}
}

// State reports the current state of key without changing it.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.targets[key]; ok {
		return t.state
	}
	return StateClosed
}
