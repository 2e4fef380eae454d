package domain

type ActionStatus string

const (
	ActionStatusSuccess   ActionStatus = "success"
	ActionStatusFailure   ActionStatus = "failure"
	ActionStatusThrottled ActionStatus = "throttled"
	ActionStatusSkipped   ActionStatus = "skipped"
)

// ReasonConditionNotMet is the reason attached to skipped actions.
const ReasonConditionNotMet = "condition_not_met"

// ActionResult is the outcome of one action. The typed payload matching
// Type is populated for success and, where the action got far enough to
// build it, for failure too.
type ActionResult struct {
	ID     string
	Type   ActionType
	Status ActionStatus
	Reason string

	Email   *EmailResult
	Webhook *WebhookResult
	Index   *IndexResult
	Logging *LoggingResult
}

// Email is a fully rendered message.
type Email struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo []string
	Subject string
	Body    string
}

type EmailResult struct {
	Account string
	Message Email
}

type WebhookResult struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	AttemptID  string
}

type IndexResult struct {
	Partition  string
	DocumentID string
}

type LoggingResult struct {
	Level      string
	LoggedText string
}

func (r ActionResult) Succeeded() bool {
	return r.Status == ActionStatusSuccess
}

// Failure builds a failed result for spec. Typed payloads may be attached by
// the caller afterwards.
func Failure(spec ActionSpec, reason string) ActionResult {
	return ActionResult{ID: spec.ID, Type: spec.Type, Status: ActionStatusFailure, Reason: reason}
}

func Throttled(spec ActionSpec, reason string) ActionResult {
	return ActionResult{ID: spec.ID, Type: spec.Type, Status: ActionStatusThrottled, Reason: reason}
}

func Skipped(spec ActionSpec, reason string) ActionResult {
	return ActionResult{ID: spec.ID, Type: spec.Type, Status: ActionStatusSkipped, Reason: reason}
}
