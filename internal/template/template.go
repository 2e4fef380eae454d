// Package template renders {{ctx...}} placeholders in action fields.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

var exprRegex = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

var ErrUnknownVariable = errors.New("unknown template variable")

// Model builds the variable tree visible to templates for one execution.
func Model(ectx *domain.ExecutionContext) map[string]any {
	metadata := make(map[string]any, len(ectx.Watch.Metadata))
	for k, v := range ectx.Watch.Metadata {
		metadata[k] = v
	}

	return map[string]any{
		"ctx": map[string]any{
			"watch_id":       ectx.WatchID,
			"execution_time": formatTime(ectx.ExecutionTime),
			"trigger": map[string]any{
				"scheduled_time": formatTime(ectx.Event.ScheduledTime),
				"triggered_time": formatTime(ectx.Event.TriggeredTime),
			},
			"payload":  ectx.Payload,
			"metadata": metadata,
		},
	}
}

// Render replaces every {{path}} in s. Paths under ctx that do not resolve
// render as the empty string; any other root is an error.
func Render(s string, model map[string]any) (string, error) {
	var renderErr error
	out := exprRegex.ReplaceAllStringFunc(s, func(match string) string {
		path := exprRegex.FindStringSubmatch(match)[1]
		root, _, _ := strings.Cut(path, ".")
		if _, ok := model[root]; !ok {
			if renderErr == nil {
				renderErr = errors.Wrapf(ErrUnknownVariable, "%q", path)
			}
			return match
		}
		v, ok := Lookup(model, path)
		if !ok {
			return ""
		}
		return stringify(v)
	})
	return out, renderErr
}

// RenderAll renders each element of in. A nil slice stays nil.
func RenderAll(in []string, model map[string]any) ([]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		r, err := Render(s, model)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// Lookup resolves a dotted path through nested maps and slices. Numeric
// segments index into slices.
func Lookup(root map[string]any, path string) (any, bool) {
	var cur any = root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
