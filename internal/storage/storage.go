// Package storage defines the document store that watch history and index
// actions write to. Documents live in named partitions; each partition has a
// mapping that fixes how every field is indexed before the first write.
package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrPartitionNotFound = errors.New("partition not found")
	ErrPartitionExists   = errors.New("partition already exists")
	ErrNotAggregatable   = errors.New("field is not aggregatable")
)

// Document is a JSON-like tree: maps, slices, strings, numbers, bools,
// time.Time and nil.
type Document = map[string]any

// Backend is the storage collaborator. Implementations must make
// PutDocument atomic per document.
type Backend interface {
	// CreatePartition returns ErrPartitionExists if name is taken.
	CreatePartition(ctx context.Context, name string, mapping Mapping) error
	PartitionExists(ctx context.Context, name string) (bool, error)
	// PutDocument returns ErrPartitionNotFound for unknown partitions.
	// Writing an existing id replaces the document.
	PutDocument(ctx context.Context, partition, id string, doc Document) error
	Search(ctx context.Context, q Query) (Result, error)
	Ping(ctx context.Context) error
}

// Query selects documents from every partition matching Partition, which is
// either an exact name or a prefix followed by "*".
type Query struct {
	Partition string

	Terms  []TermFilter
	Ranges []RangeFilter

	// SortField must be a date field; hits are returned newest first.
	// Empty means insertion order.
	SortField string
	// Size caps the number of hits. Zero returns no hits, only totals
	// and aggregations.
	Size int

	Aggregations []TermsAggregation
}

// TermFilter matches documents with Value among the indexed terms of Field.
type TermFilter struct {
	Field string
	Value any
}

// RangeFilter bounds a date field, From inclusive and To exclusive. Zero
// bounds are open.
type RangeFilter struct {
	Field string
	From  time.Time
	To    time.Time
}

// TermsAggregation buckets matching documents by each distinct term of Field.
type TermsAggregation struct {
	Name  string
	Field string
	// Size caps the number of buckets; zero means DefaultBuckets.
	Size int
}

const DefaultBuckets = 10

type Hit struct {
	Partition string
	ID        string
	Source    Document
}

// Bucket counts documents, not values: a document holding the same term
// twice counts once.
type Bucket struct {
	Key      string
	DocCount int64
}

type Result struct {
	Total        int64
	Hits         []Hit
	Aggregations map[string][]Bucket
}
