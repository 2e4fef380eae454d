// Package memory is an in-process storage backend. Documents are kept as
// deep copies and indexed on write, so queries behave like the durable
// backends without any external service.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/storage"
)

type document struct {
	id     string
	source storage.Document
	terms  storage.Terms
	seq    int64
}

type partition struct {
	name    string
	mapping storage.Mapping
	docs    map[string]*document
}

type Backend struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	seq        int64
}

func New() *Backend {
	return &Backend{partitions: make(map[string]*partition)}
}

func (b *Backend) CreatePartition(_ context.Context, name string, mapping storage.Mapping) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.partitions[name]; exists {
		return errors.Wrapf(storage.ErrPartitionExists, "%s", name)
	}
	b.partitions[name] = &partition{name: name, mapping: mapping, docs: make(map[string]*document)}
	return nil
}

func (b *Backend) PartitionExists(_ context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.partitions[name]
	return ok, nil
}

// Mapping returns the mapping a partition was created with.
func (b *Backend) Mapping(name string) (storage.Mapping, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.partitions[name]
	if !ok {
		return storage.Mapping{}, false
	}
	return p.mapping, true
}

func (b *Backend) PutDocument(_ context.Context, partitionName, id string, doc storage.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.partitions[partitionName]
	if !ok {
		return errors.Wrapf(storage.ErrPartitionNotFound, "%s", partitionName)
	}

	source := domain.ClonePayload(doc)
	b.seq++
	seq := b.seq
	if existing, ok := p.docs[id]; ok {
		seq = existing.seq
	}
	p.docs[id] = &document{
		id:     id,
		source: source,
		terms:  storage.Analyze(p.mapping, source),
		seq:    seq,
	}
	return nil
}

func (b *Backend) Search(_ context.Context, q storage.Query) (storage.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	type match struct {
		partition string
		doc       *document
	}
	var matches []match
	counts := make(map[string]map[string]int64, len(q.Aggregations))

	for _, p := range b.partitions {
		if !storage.MatchPartition(q.Partition, p.name) {
			continue
		}
		for _, agg := range q.Aggregations {
			if err := storage.CheckAggregatable(p.mapping, agg.Field); err != nil {
				return storage.Result{}, err
			}
		}
		for _, d := range p.docs {
			if !storage.Matches(p.mapping, d.terms, q) {
				continue
			}
			matches = append(matches, match{partition: p.name, doc: d})
			for _, agg := range q.Aggregations {
				c := counts[agg.Name]
				if c == nil {
					c = make(map[string]int64)
					counts[agg.Name] = c
				}
				// terms are distinct per document, so this counts documents
				for _, term := range d.terms[agg.Field] {
					c[term]++
				}
			}
		}
	}

	sortKey := func(m match) string {
		if q.SortField == "" {
			return ""
		}
		terms := m.doc.terms[q.SortField]
		if len(terms) == 0 {
			return ""
		}
		return terms[len(terms)-1]
	}
	sort.Slice(matches, func(i, j int) bool {
		if q.SortField != "" {
			ki, kj := sortKey(matches[i]), sortKey(matches[j])
			if ki != kj {
				return ki > kj
			}
		}
		return matches[i].doc.seq < matches[j].doc.seq
	})

	res := storage.Result{Total: int64(len(matches))}
	for i := 0; i < len(matches) && i < q.Size; i++ {
		res.Hits = append(res.Hits, storage.Hit{
			Partition: matches[i].partition,
			ID:        matches[i].doc.id,
			Source:    domain.ClonePayload(matches[i].doc.source),
		})
	}

	if len(q.Aggregations) > 0 {
		res.Aggregations = make(map[string][]storage.Bucket, len(q.Aggregations))
		for _, agg := range q.Aggregations {
			buckets := make([]storage.Bucket, 0, len(counts[agg.Name]))
			for key, n := range counts[agg.Name] {
				buckets = append(buckets, storage.Bucket{Key: key, DocCount: n})
			}
			res.Aggregations[agg.Name] = storage.SortBuckets(buckets, agg.Size)
		}
	}
	return res, nil
}

func (b *Backend) Ping(context.Context) error { return nil }
