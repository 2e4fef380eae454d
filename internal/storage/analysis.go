package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"
)

// DateLayout is fixed width so that lexical order of date terms is
// chronological order.
const DateLayout = "2006-01-02T15:04:05.000000000Z"

// Terms is the inverted form of one document: field path to its distinct
// terms.
type Terms map[string][]string

// Analyze flattens doc and turns every indexed leaf into terms according to
// m. Arrays contribute each element to the same field path.
func Analyze(m Mapping, doc Document) Terms {
	acc := make(map[string]map[string]struct{})
	walk(m, "", doc, acc)

	out := make(Terms, len(acc))
	for field, set := range acc {
		terms := make([]string, 0, len(set))
		for t := range set {
			terms = append(terms, t)
		}
		sort.Strings(terms)
		out[field] = terms
	}
	return out
}

func walk(m Mapping, prefix string, v any, acc map[string]map[string]struct{}) {
	if prefix != "" {
		if t, ok := m.Resolve(prefix); ok && t == FieldDisabled {
			return
		}
	}

	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			walk(m, join(prefix, k), child, acc)
		}
	case []any:
		for _, child := range val {
			walk(m, prefix, child, acc)
		}
	case []string:
		for _, child := range val {
			walk(m, prefix, child, acc)
		}
	case nil:
	default:
		if prefix == "" {
			return
		}
		ft, ok := m.Resolve(prefix)
		if !ok {
			if !m.Dynamic {
				return
			}
			ft = Infer(val)
			if ft == FieldText {
				add(acc, prefix+KeywordSuffix, FieldKeyword, val)
			}
		}
		add(acc, prefix, ft, val)
	}
}

func add(acc map[string]map[string]struct{}, field string, ft FieldType, v any) {
	terms, err := TermsFor(ft, v)
	if err != nil {
		return
	}
	set := acc[field]
	if set == nil {
		set = make(map[string]struct{})
		acc[field] = set
	}
	for _, t := range terms {
		set[t] = struct{}{}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// KeywordSuffix names the exact-value twin that dynamic mapping adds next to
// every inferred text field.
const KeywordSuffix = ".keyword"

// Infer picks a type for an unmapped value. Strings are analyzed as text.
func Infer(v any) FieldType {
	switch v.(type) {
	case bool:
		return FieldBoolean
	case int, int32, int64:
		return FieldLong
	case float32, float64:
		return FieldDouble
	case time.Time:
		return FieldDate
	default:
		return FieldText
	}
}

// TermsFor converts one value into the terms a field of type ft indexes.
// Filter values go through the same function so lookups match exactly what
// was indexed.
func TermsFor(ft FieldType, v any) ([]string, error) {
	switch ft {
	case FieldKeyword:
		return []string{scalarString(v)}, nil
	case FieldText:
		return tokenize(scalarString(v)), nil
	case FieldBoolean:
		switch b := v.(type) {
		case bool:
			return []string{strconv.FormatBool(b)}, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, errors.Wrapf(err, "boolean term %q", b)
			}
			return []string{strconv.FormatBool(parsed)}, nil
		}
	case FieldLong, FieldDouble:
		if f, ok := number(v); ok {
			return []string{strconv.FormatFloat(f, 'f', -1, 64)}, nil
		}
	case FieldDate:
		t, err := parseDate(v)
		if err != nil {
			return nil, err
		}
		return []string{FormatDate(t)}, nil
	}
	return nil, errors.Newf("cannot index %T as %s", v, ft)
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func parseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "date term %q", t)
		}
		return parsed, nil
	}
	return time.Time{}, errors.Newf("cannot index %T as date", v)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return FormatDate(s)
	default:
		return fmt.Sprint(s)
	}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// FieldTypeIn resolves field the way Analyze would for a value v.
func FieldTypeIn(m Mapping, field string, v any) (FieldType, bool) {
	if ft, ok := m.Resolve(field); ok {
		return ft, ft != FieldDisabled
	}
	if !m.Dynamic {
		return "", false
	}
	if strings.HasSuffix(field, KeywordSuffix) {
		return FieldKeyword, true
	}
	return Infer(v), true
}

// CheckAggregatable reports ErrNotAggregatable when field is mapped as a
// type that cannot be bucketed. Unmapped fields are allowed; dynamic string
// fields should be aggregated through their KeywordSuffix twin.
func CheckAggregatable(m Mapping, field string) error {
	ft, ok := m.Resolve(field)
	if !ok {
		return nil
	}
	if !ft.Aggregatable() {
		return errors.Wrapf(ErrNotAggregatable, "%s is mapped as %s", field, ft)
	}
	return nil
}

// MatchPartition reports whether name is selected by pattern.
func MatchPartition(pattern, name string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return pattern == name
}

// SortBuckets orders by doc count descending then key, and truncates.
func SortBuckets(buckets []Bucket, size int) []Bucket {
	if size <= 0 {
		size = DefaultBuckets
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].DocCount != buckets[j].DocCount {
			return buckets[i].DocCount > buckets[j].DocCount
		}
		return buckets[i].Key < buckets[j].Key
	})
	if len(buckets) > size {
		buckets = buckets[:size]
	}
	return buckets
}
