package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-watcher/internal/storage"
)

func mapping() storage.Mapping {
	return storage.Mapping{
		Version: 1,
		Fields: map[string]storage.FieldType{
			"watch_id":  storage.FieldKeyword,
			"timestamp": storage.FieldDate,
		},
		Templates: []storage.DynamicTemplate{
			{PathMatch: "actions_results.*.email.to", Type: storage.FieldKeyword},
		},
		Dynamic: true,
	}
}

func emailDoc(watchID string, ts time.Time, to ...string) storage.Document {
	addrs := make([]any, len(to))
	for i, a := range to {
		addrs[i] = a
	}
	return storage.Document{
		"watch_id":  watchID,
		"timestamp": ts,
		"actions_results": map[string]any{
			"_email": map[string]any{"email": map[string]any{"to": addrs}},
		},
	}
}

func TestBackend_PartitionLifecycle(t *testing.T) {
	ctx := context.Background()
	b := New()

	ok, err := b.PartitionExists(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = b.PutDocument(ctx, "p1", "d1", storage.Document{})
	assert.ErrorIs(t, err, storage.ErrPartitionNotFound)

	require.NoError(t, b.CreatePartition(ctx, "p1", mapping()))
	assert.ErrorIs(t, b.CreatePartition(ctx, "p1", storage.DynamicMapping()), storage.ErrPartitionExists)

	m, ok := b.Mapping("p1")
	require.True(t, ok)
	assert.Equal(t, mapping(), m, "first mapping wins")
}

func TestBackend_TermsAggregationCountsDocuments(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.CreatePartition(ctx, "h-1", mapping()))
	require.NoError(t, b.CreatePartition(ctx, "h-2", mapping()))

	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.PutDocument(ctx, "h-1", "a", emailDoc("w", ts, "to1@example.com", "to2@example.com", "to1@example.com")))
	require.NoError(t, b.PutDocument(ctx, "h-2", "b", emailDoc("w", ts.Add(time.Hour), "to1@example.com")))

	res, err := b.Search(ctx, storage.Query{
		Partition:    "h-*",
		Aggregations: []storage.TermsAggregation{{Name: "to", Field: "actions_results._email.email.to"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Total)
	assert.Empty(t, res.Hits)
	assert.Equal(t, []storage.Bucket{
		{Key: "to1@example.com", DocCount: 2},
		{Key: "to2@example.com", DocCount: 1},
	}, res.Aggregations["to"])
}

func TestBackend_SearchFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.CreatePartition(ctx, "h", mapping()))

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		watch := "even"
		if i%2 == 1 {
			watch = "odd"
		}
		require.NoError(t, b.PutDocument(ctx, "h", fmt.Sprintf("d%d", i), emailDoc(watch, base.Add(time.Duration(i)*time.Minute), "x@example.com")))
	}

	res, err := b.Search(ctx, storage.Query{
		Partition: "h",
		Terms:     []storage.TermFilter{{Field: "watch_id", Value: "even"}},
		Ranges:    []storage.RangeFilter{{Field: "timestamp", From: base.Add(time.Minute)}},
		SortField: "timestamp",
		Size:      10,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Total)
	assert.Equal(t, "d4", res.Hits[0].ID)
	assert.Equal(t, "d2", res.Hits[1].ID)

	res, err = b.Search(ctx, storage.Query{Partition: "h", Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Total)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "d0", res.Hits[0].ID)
}

func TestBackend_ReplaceKeepsSingleDocument(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.CreatePartition(ctx, "h", mapping()))

	ts := time.Now()
	require.NoError(t, b.PutDocument(ctx, "h", "d", emailDoc("w", ts, "old@example.com")))
	require.NoError(t, b.PutDocument(ctx, "h", "d", emailDoc("w", ts, "new@example.com")))

	res, err := b.Search(ctx, storage.Query{
		Partition:    "h",
		Size:         10,
		Aggregations: []storage.TermsAggregation{{Name: "to", Field: "actions_results._email.email.to"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
	assert.Equal(t, []storage.Bucket{{Key: "new@example.com", DocCount: 1}}, res.Aggregations["to"])
}

func TestBackend_SourceIsCopied(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.CreatePartition(ctx, "h", storage.DynamicMapping()))

	doc := storage.Document{"nested": map[string]any{"k": "v"}}
	require.NoError(t, b.PutDocument(ctx, "h", "d", doc))
	doc["nested"].(map[string]any)["k"] = "changed"

	res, err := b.Search(ctx, storage.Query{Partition: "h", Size: 1})
	require.NoError(t, err)
	assert.Equal(t, "v", res.Hits[0].Source["nested"].(map[string]any)["k"])
}

func TestBackend_AggregateOnTextFails(t *testing.T) {
	ctx := context.Background()
	b := New()
	m := mapping()
	m.Fields["subject"] = storage.FieldText
	require.NoError(t, b.CreatePartition(ctx, "h", m))

	_, err := b.Search(ctx, storage.Query{
		Partition:    "h",
		Aggregations: []storage.TermsAggregation{{Name: "s", Field: "subject"}},
	})
	assert.ErrorIs(t, err, storage.ErrNotAggregatable)
}

func TestBackend_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.CreatePartition(ctx, "h", mapping()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.PutDocument(ctx, "h", fmt.Sprintf("d%d", i), emailDoc("w", time.Now(), "a@example.com"))
		}(i)
	}
	wg.Wait()

	res, err := b.Search(ctx, storage.Query{Partition: "h"})
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Total)
}
