package storage

import "slices"

// FilterTerms analyzes a term filter value the way field is indexed under m.
// A document matches when it holds every returned term.
func FilterTerms(m Mapping, f TermFilter) []string {
	ft, ok := FieldTypeIn(m, f.Field, f.Value)
	if !ok {
		return nil
	}
	terms, err := TermsFor(ft, f.Value)
	if err != nil {
		return nil
	}
	return terms
}

// RangeBounds returns the date terms bounding r. Empty strings are open.
func RangeBounds(r RangeFilter) (from, to string) {
	if !r.From.IsZero() {
		from = FormatDate(r.From)
	}
	if !r.To.IsZero() {
		to = FormatDate(r.To)
	}
	return from, to
}

// Matches evaluates the filters of q against the analyzed terms of one
// document stored under m.
func Matches(m Mapping, terms Terms, q Query) bool {
	for _, f := range q.Terms {
		want := FilterTerms(m, f)
		if len(want) == 0 {
			return false
		}
		for _, t := range want {
			if !slices.Contains(terms[f.Field], t) {
				return false
			}
		}
	}
	for _, r := range q.Ranges {
		from, to := RangeBounds(r)
		if !slices.ContainsFunc(terms[r.Field], func(t string) bool {
			return (from == "" || t >= from) && (to == "" || t < to)
		}) {
			return false
		}
	}
	return true
}
