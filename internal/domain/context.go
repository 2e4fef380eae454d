package domain

import "time"

// ExecutionContext is the state shared by the stages of one execution.
// It is owned by the engine goroutine running that execution.
type ExecutionContext struct {
	WatchID       string
	Watch         Watch
	Event         TriggerEvent
	ExecutionTime time.Time

	Payload      map[string]any
	ConditionMet bool

	Record *WatchRecord
}
