package history

import (
	"time"

	"github.com/djlord-it/easy-watcher/internal/storage"
)

// IndexPrefix starts every history partition name.
const IndexPrefix = ".watch_history-"

// MappingVersion is bumped whenever Mapping changes. Existing partitions
// keep the mapping they were created with.
const MappingVersion = 1

// PartitionName is the daily partition for t, by UTC calendar day.
func PartitionName(t time.Time) string {
	return IndexPrefix + t.UTC().Format("2006.01.02")
}

// Pattern selects every history partition.
func Pattern() string {
	return IndexPrefix + "*"
}

// Mapping is the explicit schema of watch record documents. Fields not
// listed are stored but not indexed. Address fields of any email action are
// keywords so that aggregations bucket whole addresses.
func Mapping() storage.Mapping {
	return storage.Mapping{
		Version: MappingVersion,
		Fields: map[string]storage.FieldType{
			"watch_id":                     storage.FieldKeyword,
			"state":                        storage.FieldKeyword,
			"reason":                       storage.FieldText,
			"timestamp":                    storage.FieldDate,
			"action_order":                 storage.FieldKeyword,
			"input":                        storage.FieldDisabled,
			"condition_result.met":         storage.FieldBoolean,
			"trigger_event.id":             storage.FieldKeyword,
			"trigger_event.type":           storage.FieldKeyword,
			"trigger_event.manual":         storage.FieldBoolean,
			"trigger_event.scheduled_time": storage.FieldDate,
			"trigger_event.triggered_time": storage.FieldDate,
		},
		Templates: []storage.DynamicTemplate{
			{Name: "action_id", PathMatch: "actions_results.*.id", Type: storage.FieldKeyword},
			{Name: "action_type", PathMatch: "actions_results.*.type", Type: storage.FieldKeyword},
			{Name: "action_status", PathMatch: "actions_results.*.status", Type: storage.FieldKeyword},
			{Name: "action_reason", PathMatch: "actions_results.*.reason", Type: storage.FieldText},

			{Name: "email_account", PathMatch: "actions_results.*.email.account", Type: storage.FieldKeyword},
			{Name: "email_from", PathMatch: "actions_results.*.email.from", Type: storage.FieldKeyword},
			{Name: "email_to", PathMatch: "actions_results.*.email.to", Type: storage.FieldKeyword},
			{Name: "email_cc", PathMatch: "actions_results.*.email.cc", Type: storage.FieldKeyword},
			{Name: "email_bcc", PathMatch: "actions_results.*.email.bcc", Type: storage.FieldKeyword},
			{Name: "email_reply_to", PathMatch: "actions_results.*.email.reply_to", Type: storage.FieldKeyword},
			{Name: "email_subject", PathMatch: "actions_results.*.email.subject", Type: storage.FieldText},
			{Name: "email_body", PathMatch: "actions_results.*.email.body", Type: storage.FieldText},

			{Name: "webhook_method", PathMatch: "actions_results.*.webhook.method", Type: storage.FieldKeyword},
			{Name: "webhook_url", PathMatch: "actions_results.*.webhook.url", Type: storage.FieldKeyword},
			{Name: "webhook_status", PathMatch: "actions_results.*.webhook.status_code", Type: storage.FieldLong},
			{Name: "webhook_attempt", PathMatch: "actions_results.*.webhook.attempt_id", Type: storage.FieldKeyword},
			{Name: "webhook_body", PathMatch: "actions_results.*.webhook.body", Type: storage.FieldDisabled},

			{Name: "index_partition", PathMatch: "actions_results.*.index.partition", Type: storage.FieldKeyword},
			{Name: "index_document", PathMatch: "actions_results.*.index.document_id", Type: storage.FieldKeyword},

			{Name: "logging_level", PathMatch: "actions_results.*.logging.level", Type: storage.FieldKeyword},
			{Name: "logging_text", PathMatch: "actions_results.*.logging.logged_text", Type: storage.FieldText},
		},
	}
}
