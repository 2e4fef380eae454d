package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

type InputType string

const (
	InputTypeNone   InputType = "none"
	InputTypeSimple InputType = "simple"
	InputTypeHTTP   InputType = "http"
)

type InputSpec struct {
	Type   InputType
	Simple map[string]any
	HTTP   *HTTPInput
}

type HTTPInput struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

type ConditionType string

const (
	ConditionTypeAlways  ConditionType = "always"
	ConditionTypeNever   ConditionType = "never"
	ConditionTypeCompare ConditionType = "compare"
)

type ConditionSpec struct {
	Type    ConditionType
	Compare *CompareCondition
}

// CompareCondition compares the value found at Path in the input payload
// against Value using Op (eq, not_eq, gt, gte, lt, lte).
type CompareCondition struct {
	Path  string
	Op    string
	Value any
}

type ActionType string

const (
	ActionTypeEmail   ActionType = "email"
	ActionTypeWebhook ActionType = "webhook"
	ActionTypeIndex   ActionType = "index"
	ActionTypeLogging ActionType = "logging"
)

type ActionSpec struct {
	ID   string
	Type ActionType

	// ThrottlePeriod limits how often this action runs for its watch.
	// Zero disables throttling.
	ThrottlePeriod time.Duration

	Email   *EmailTemplate
	Webhook *WebhookAction
	Index   *IndexAction
	Logging *LoggingAction
}

// EmailTemplate fields may contain {{ctx...}} placeholders.
type EmailTemplate struct {
	Account string
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo []string
	Subject string
	Body    string
}

type WebhookAction struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Secret  string // HMAC secret
	Timeout time.Duration
}

type IndexAction struct {
	Partition string
}

type LoggingAction struct {
	Level string
	Text  string
}

// ValidLogLevel reports whether level may be used by a logging action.
// Empty means info. Levels above error would halt the process.
func ValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "", "debug", "info", "warn", "error":
		return true
	}
	return false
}

type Watch struct {
	ID string

	Trigger   ScheduleSpec
	Input     InputSpec
	Condition ConditionSpec
	Actions   []ActionSpec

	Metadata map[string]string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so executions never observe concurrent edits.
func (w Watch) Clone() Watch {
	c := w
	c.Input = w.Input.clone()
	c.Condition = w.Condition.clone()
	c.Metadata = maps.Clone(w.Metadata)
	if w.Actions != nil {
		c.Actions = make([]ActionSpec, len(w.Actions))
		for i, a := range w.Actions {
			c.Actions[i] = a.clone()
		}
	}
	return c
}

func (s InputSpec) clone() InputSpec {
	c := s
	c.Simple = cloneValue(s.Simple).(map[string]any)
	if s.HTTP != nil {
		h := *s.HTTP
		h.Headers = maps.Clone(s.HTTP.Headers)
		c.HTTP = &h
	}
	return c
}

func (s ConditionSpec) clone() ConditionSpec {
	c := s
	if s.Compare != nil {
		cmp := *s.Compare
		cmp.Value = cloneValue(s.Compare.Value)
		c.Compare = &cmp
	}
	return c
}

func (a ActionSpec) clone() ActionSpec {
	c := a
	if a.Email != nil {
		e := *a.Email
		e.To = slices.Clone(a.Email.To)
		e.Cc = slices.Clone(a.Email.Cc)
		e.Bcc = slices.Clone(a.Email.Bcc)
		e.ReplyTo = slices.Clone(a.Email.ReplyTo)
		c.Email = &e
	}
	if a.Webhook != nil {
		w := *a.Webhook
		w.Headers = maps.Clone(a.Webhook.Headers)
		c.Webhook = &w
	}
	if a.Index != nil {
		i := *a.Index
		c.Index = &i
	}
	if a.Logging != nil {
		l := *a.Logging
		c.Logging = &l
	}
	return c
}

// cloneValue deep-copies JSON-like values (maps, slices, scalars).
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any(nil)
		}
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = cloneValue(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = cloneValue(item)
		}
		return s
	case []string:
		return slices.Clone(val)
	default:
		return v
	}
}

// ClonePayload deep-copies an input payload.
func ClonePayload(p map[string]any) map[string]any {
	return cloneValue(p).(map[string]any)
}
