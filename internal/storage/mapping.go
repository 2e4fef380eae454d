package storage

import (
	"path"
	"strings"
)

type FieldType string

const (
	FieldKeyword FieldType = "keyword"
	FieldText    FieldType = "text"
	FieldDate    FieldType = "date"
	FieldBoolean FieldType = "boolean"
	FieldLong    FieldType = "long"
	FieldDouble  FieldType = "double"
	// FieldDisabled stores the subtree but indexes nothing under it.
	FieldDisabled FieldType = "disabled"
)

// Aggregatable reports whether terms of this type can be bucketed.
func (t FieldType) Aggregatable() bool {
	switch t {
	case FieldKeyword, FieldDate, FieldBoolean, FieldLong, FieldDouble:
		return true
	}
	return false
}

// DynamicTemplate types every field whose dotted path matches PathMatch.
// "*" matches exactly one path segment.
type DynamicTemplate struct {
	Name      string    `json:"name"`
	PathMatch string    `json:"path_match"`
	Type      FieldType `json:"type"`
}

// Mapping is declared when a partition is created and never changes for
// that partition.
type Mapping struct {
	Version   int                  `json:"version"`
	Fields    map[string]FieldType `json:"fields,omitempty"`
	Templates []DynamicTemplate    `json:"templates,omitempty"`
	// Dynamic types unmapped fields from their values; otherwise they are
	// stored but not indexed.
	Dynamic bool `json:"dynamic"`
}

// DynamicMapping indexes everything by inferred type.
func DynamicMapping() Mapping {
	return Mapping{Version: 1, Dynamic: true}
}

// Resolve returns the declared type for a dotted field path: an explicit
// field wins over templates, templates apply in order, and a disabled
// ancestor disables the whole subtree.
func (m Mapping) Resolve(field string) (FieldType, bool) {
	if t, ok := m.Fields[field]; ok {
		return t, true
	}
	for i := 0; i < len(field); i++ {
		if field[i] == '.' && m.Fields[field[:i]] == FieldDisabled {
			return FieldDisabled, true
		}
	}

	slashed := strings.ReplaceAll(field, ".", "/")
	for _, tpl := range m.Templates {
		ok, err := path.Match(strings.ReplaceAll(tpl.PathMatch, ".", "/"), slashed)
		if err == nil && ok {
			return tpl.Type, true
		}
	}
	return "", false
}
