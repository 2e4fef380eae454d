package condition

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/template"
)

const payloadPrefix = "ctx.payload."

// Compare checks the payload value at Path against a constant. Paths may be
// written relative to the payload or as ctx.payload.<path>. Ordering
// operators need two numbers or two strings; a missing path never matches.
type Compare struct{}

func (Compare) Type() domain.ConditionType { return domain.ConditionTypeCompare }

func (Compare) Evaluate(_ context.Context, spec domain.ConditionSpec, payload map[string]any) (bool, error) {
	c := spec.Compare
	if c == nil || c.Path == "" {
		return false, errors.New("compare condition: path is required")
	}

	actual, ok := template.Lookup(payload, strings.TrimPrefix(c.Path, payloadPrefix))
	if !ok {
		return false, nil
	}

	switch c.Op {
	case "eq":
		return equal(actual, c.Value), nil
	case "not_eq":
		return !equal(actual, c.Value), nil
	case "gt", "gte", "lt", "lte":
		cmp, err := order(actual, c.Value)
		if err != nil {
			return false, errors.Wrapf(err, "compare condition %s %s", c.Path, c.Op)
		}
		switch c.Op {
		case "gt":
			return cmp > 0, nil
		case "gte":
			return cmp >= 0, nil
		case "lt":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, errors.Newf("compare condition: unknown op %q", c.Op)
	}
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func order(a, b any) (int, error) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, nil
			case fa > fb:
				return 1, nil
			}
			return 0, nil
		}
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), nil
	}
	return 0, errors.Newf("cannot order %s and %s", typeName(a), typeName(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
