package domain

import "time"

type ExecutionState string

const (
	ExecutionStateAwaitsExecution ExecutionState = "awaits_execution"
	ExecutionStateChecking        ExecutionState = "checking"
	ExecutionStateExecuted        ExecutionState = "executed"
	ExecutionStateFailed          ExecutionState = "execution_failed"
)

// Terminal reports whether the state is final.
func (s ExecutionState) Terminal() bool {
	return s == ExecutionStateExecuted || s == ExecutionStateFailed
}

// Reasons recorded on failed executions.
const (
	ReasonWatchMissing    = "watch_missing"
	ReasonInputFailed     = "input_failed"
	ReasonConditionFailed = "condition_failed"
)

type ConditionResult struct {
	Met bool
}

// WatchRecord is the outcome of one watch execution. It is created when an
// execution starts, mutated as stages complete and written once to history.
type WatchRecord struct {
	ID      string
	WatchID string
	State   ExecutionState
	Reason  string

	TriggerEvent    TriggerEvent
	Input           map[string]any
	ConditionResult *ConditionResult

	// ActionsResults is keyed by action id; ActionOrder keeps declaration order.
	ActionsResults map[string]ActionResult
	ActionOrder    []string

	Timestamp time.Time
}

// NewWatchRecord creates a record in the awaits_execution state.
func NewWatchRecord(event TriggerEvent, now time.Time) *WatchRecord {
	return &WatchRecord{
		ID:             event.WatchID + "_" + event.ID.String(),
		WatchID:        event.WatchID,
		State:          ExecutionStateAwaitsExecution,
		TriggerEvent:   event,
		ActionsResults: make(map[string]ActionResult),
		Timestamp:      now,
	}
}

// AddActionResult appends the result, keeping declaration order.
func (r *WatchRecord) AddActionResult(res ActionResult) {
	if _, exists := r.ActionsResults[res.ID]; !exists {
		r.ActionOrder = append(r.ActionOrder, res.ID)
	}
	r.ActionsResults[res.ID] = res
}

// Results returns action results in declaration order.
func (r *WatchRecord) Results() []ActionResult {
	out := make([]ActionResult, 0, len(r.ActionOrder))
	for _, id := range r.ActionOrder {
		out = append(out, r.ActionsResults[id])
	}
	return out
}

// Fail moves the record to execution_failed with reason.
func (r *WatchRecord) Fail(reason string) {
	r.State = ExecutionStateFailed
	r.Reason = reason
}
