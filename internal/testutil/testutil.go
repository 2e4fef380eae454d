// Package testutil provides shared test helpers for the watcher packages.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

// Epoch is the start time of every fake clock built by NewFakeClock.
var Epoch = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// NewFakeClock returns a fake clock set to Epoch.
func NewFakeClock() *clocktesting.FakeClock {
	return clocktesting.NewFakeClock(Epoch)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// WaitFor polls cond until it holds or two seconds pass.
func WaitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

// EmailWatch is an interval watch with a static input, an always condition
// and a single email action "_email" addressed to to.
func EmailWatch(id string, every time.Duration, to ...string) domain.Watch {
	return domain.Watch{
		ID:        id,
		Trigger:   domain.Interval(every),
		Input:     domain.InputSpec{Type: domain.InputTypeSimple, Simple: map[string]any{"host": "db-1"}},
		Condition: domain.ConditionSpec{Type: domain.ConditionTypeAlways},
		Actions: []domain.ActionSpec{{
			ID:   "_email",
			Type: domain.ActionTypeEmail,
			Email: &domain.EmailTemplate{
				Account: "test",
				From:    "from@example.com",
				To:      to,
				Subject: "{{ctx.watch_id}} fired",
				Body:    "host {{ctx.payload.host}}",
			},
		}},
	}
}

// TriggerEvent returns a scheduled event for watchID fired at t.
func TriggerEvent(watchID string, t time.Time) domain.TriggerEvent {
	return domain.TriggerEvent{
		ID:            uuid.New(),
		WatchID:       watchID,
		ScheduledTime: t,
		TriggeredTime: t,
	}
}
