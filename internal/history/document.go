package history

import (
	"time"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/storage"
)

// Document renders a record in the shape declared by Mapping. Times are
// RFC 3339 strings so every backend returns the same source.
func Document(rec domain.WatchRecord) storage.Document {
	trigger := "schedule"
	if rec.TriggerEvent.Manual {
		trigger = "manual"
	}

	input := map[string]any{}
	if rec.Input != nil {
		input = domain.ClonePayload(rec.Input)
	}

	doc := storage.Document{
		"watch_id": rec.WatchID,
		"state":    string(rec.State),
		"trigger_event": map[string]any{
			"id":             rec.TriggerEvent.ID.String(),
			"type":           trigger,
			"manual":         rec.TriggerEvent.Manual,
			"scheduled_time": formatTime(rec.TriggerEvent.ScheduledTime),
			"triggered_time": formatTime(rec.TriggerEvent.TriggeredTime),
		},
		"input":        input,
		"action_order": anyStrings(rec.ActionOrder),
		"timestamp":    formatTime(rec.Timestamp),
	}
	if rec.Reason != "" {
		doc["reason"] = rec.Reason
	}
	if rec.ConditionResult != nil {
		doc["condition_result"] = map[string]any{"met": rec.ConditionResult.Met}
	}

	results := make(map[string]any, len(rec.ActionsResults))
	for id, res := range rec.ActionsResults {
		results[id] = actionDocument(res)
	}
	doc["actions_results"] = results
	return doc
}

func actionDocument(res domain.ActionResult) map[string]any {
	out := map[string]any{
		"id":     res.ID,
		"type":   string(res.Type),
		"status": string(res.Status),
	}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}

	switch {
	case res.Email != nil:
		m := res.Email.Message
		out[string(domain.ActionTypeEmail)] = map[string]any{
			"account":  res.Email.Account,
			"from":     m.From,
			"to":       anyStrings(m.To),
			"cc":       anyStrings(m.Cc),
			"bcc":      anyStrings(m.Bcc),
			"reply_to": anyStrings(m.ReplyTo),
			"subject":  m.Subject,
			"body":     m.Body,
		}
	case res.Webhook != nil:
		out[string(domain.ActionTypeWebhook)] = map[string]any{
			"method":      res.Webhook.Method,
			"url":         res.Webhook.URL,
			"status_code": res.Webhook.StatusCode,
			"body":        res.Webhook.Body,
			"attempt_id":  res.Webhook.AttemptID,
		}
	case res.Index != nil:
		out[string(domain.ActionTypeIndex)] = map[string]any{
			"partition":   res.Index.Partition,
			"document_id": res.Index.DocumentID,
		}
	case res.Logging != nil:
		out[string(domain.ActionTypeLogging)] = map[string]any{
			"level":       res.Logging.Level,
			"logged_text": res.Logging.LoggedText,
		}
	}
	return out
}

// anyStrings keeps order and duplicates; documents hold []any so sources look
// the same whether or not they went through JSON.
func anyStrings(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
