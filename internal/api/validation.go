package api

import (
	"net/url"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/history"
)

// parseRecordQuery validates the filters shared by /records and
// /records/aggregations.
func parseRecordQuery(values url.Values) (history.RecordQuery, error) {
	q := history.RecordQuery{WatchID: values.Get("watch_id")}

	if s := values.Get("state"); s != "" {
		state, err := validateState(s)
		if err != nil {
			return q, errors.Wrap(err, "invalid state")
		}
		q.State = state
	}

	var err error
	if q.From, err = parseTimeParam(values, "from"); err != nil {
		return q, err
	}
	if q.To, err = parseTimeParam(values, "to"); err != nil {
		return q, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return q, errors.New("from must be before to")
	}
	return q, nil
}

func validateState(s string) (domain.ExecutionState, error) {
	switch state := domain.ExecutionState(s); state {
	case domain.ExecutionStateAwaitsExecution, domain.ExecutionStateChecking,
		domain.ExecutionStateExecuted, domain.ExecutionStateFailed:
		return state, nil
	default:
		return "", errors.Newf("unknown state %q", s)
	}
}

func parseTimeParam(values url.Values, name string) (time.Time, error) {
	raw := values.Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Newf("invalid %s: must be RFC3339", name)
	}
	return t, nil
}

func validateField(field string) error {
	if field == "" {
		return errors.New("field is required")
	}
	return nil
}
