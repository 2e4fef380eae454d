package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerEvent is emitted by the scheduler when a watch is due.
type TriggerEvent struct {
	ID      uuid.UUID
	WatchID string

	ScheduledTime time.Time // intended fire time (UTC)
	TriggeredTime time.Time // actual emission time

	// Manual is set for events forced outside the schedule.
	Manual bool
}
