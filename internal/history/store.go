// Package history persists watch records into daily partitions and answers
// queries over them.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/storage"
)

// ErrPersistFailed marks a record that could not be written after every
// retry. The record has been logged as a dead letter.
var ErrPersistFailed = errors.New("history: persist failed")

// RetryPolicy is a bounded exponential backoff.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
	}
}

// Backoff returns the wait before attempt (1-based); the first attempt
// does not wait.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.InitialBackoff)
	for i := 2; i < attempt; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(d) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// MetricsSink defines the history metrics. All methods must be non-blocking.
type MetricsSink interface {
	HistoryWriteCompleted(attempts int, err error)
	HistoryRetry()
	HistoryDeadLetter()
	PartitionCreated()
}

type Store struct {
	backend storage.Backend
	logger  *zap.SugaredLogger
	clock   clock.Clock
	policy  RetryPolicy
	metrics MetricsSink // optional, nil = disabled

	mu      sync.Mutex
	ensured map[string]bool
}

func NewStore(backend storage.Backend, logger *zap.SugaredLogger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		clock:   clock.RealClock{},
		policy:  DefaultRetryPolicy(),
		ensured: make(map[string]bool),
	}
}

// WithClock sets the clock used to wait between retries.
func (s *Store) WithClock(c clock.Clock) *Store {
	s.clock = c
	return s
}

func (s *Store) WithRetryPolicy(p RetryPolicy) *Store {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	s.policy = p
	return s
}

func (s *Store) WithMetrics(sink MetricsSink) *Store {
	s.metrics = sink
	return s
}

// EnsurePartition creates name with Mapping unless it already exists. It
// talks to the backend at most once per partition per process; concurrent
// callers wait for the first one.
func (s *Store) EnsurePartition(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured[name] {
		return nil
	}

	exists, err := s.backend.PartitionExists(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "check partition %s", name)
	}
	if !exists {
		err := s.backend.CreatePartition(ctx, name, Mapping())
		switch {
		case err == nil:
			s.logger.Infow("history: partition created", "partition", name, "mapping_version", MappingVersion)
			if s.metrics != nil {
				s.metrics.PartitionCreated()
			}
		case errors.Is(err, storage.ErrPartitionExists):
			// created by another process between the check and the create
		default:
			return errors.Wrapf(err, "create partition %s", name)
		}
	}

	s.ensured[name] = true
	return nil
}

// Put writes rec as one document into the partition of its trigger time.
// Failures are retried under the policy; after the last attempt the record
// is logged as a dead letter and an error marked ErrPersistFailed returned.
func (s *Store) Put(ctx context.Context, rec domain.WatchRecord) error {
	partition := PartitionName(rec.TriggerEvent.TriggeredTime)
	doc := Document(rec)

	var lastErr error
	attempt := 1
	for ; attempt <= s.policy.Attempts; attempt++ {
		if attempt > 1 {
			if s.metrics != nil {
				s.metrics.HistoryRetry()
			}
			wait := s.policy.Backoff(attempt)
			s.logger.Warnw("history: retrying write",
				"record_id", rec.ID, "attempt", attempt, "backoff", wait, "error", lastErr)
			if err := s.sleep(ctx, wait); err != nil {
				lastErr = errors.WithSecondaryError(err, lastErr)
				attempt--
				break
			}
		}

		lastErr = s.write(ctx, partition, rec.ID, doc)
		if lastErr == nil {
			if s.metrics != nil {
				s.metrics.HistoryWriteCompleted(attempt, nil)
			}
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	if attempt > s.policy.Attempts {
		attempt = s.policy.Attempts
	}
	if s.metrics != nil {
		s.metrics.HistoryWriteCompleted(attempt, lastErr)
		s.metrics.HistoryDeadLetter()
	}
	s.deadLetter(rec, partition, lastErr)
	return errors.Mark(errors.Wrapf(lastErr, "persist record %s after %d attempts", rec.ID, attempt), ErrPersistFailed)
}

// write puts doc into partition. A partition dropped behind the store's back
// is forgotten and created again before a second put.
func (s *Store) write(ctx context.Context, partition, id string, doc storage.Document) error {
	if err := s.EnsurePartition(ctx, partition); err != nil {
		return err
	}
	err := s.backend.PutDocument(ctx, partition, id, doc)
	if !errors.Is(err, storage.ErrPartitionNotFound) {
		return err
	}

	s.logger.Warnw("history: partition disappeared, recreating", "partition", partition)
	s.forget(partition)
	if err := s.EnsurePartition(ctx, partition); err != nil {
		return err
	}
	return s.backend.PutDocument(ctx, partition, id, doc)
}

func (s *Store) forget(partition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ensured, partition)
}

func (s *Store) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

func (s *Store) deadLetter(rec domain.WatchRecord, partition string, cause error) {
	raw, err := json.Marshal(Document(rec))
	if err != nil {
		raw = []byte(`{}`)
	}
	s.logger.Errorw("history: dead letter",
		"record_id", rec.ID,
		"watch_id", rec.WatchID,
		"partition", partition,
		"error", cause,
		"record", string(raw),
	)
}

// RecordQuery filters history. Zero values are unset.
type RecordQuery struct {
	WatchID string
	State   domain.ExecutionState
	From    time.Time
	To      time.Time
	Size    int
}

// Hit is one stored record document.
type Hit struct {
	ID        string           `json:"id"`
	Partition string           `json:"partition"`
	Source    storage.Document `json:"source"`
}

func (q RecordQuery) query() storage.Query {
	sq := storage.Query{
		Partition: Pattern(),
		SortField: "timestamp",
		Size:      q.Size,
	}
	if q.WatchID != "" {
		sq.Terms = append(sq.Terms, storage.TermFilter{Field: "watch_id", Value: q.WatchID})
	}
	if q.State != "" {
		sq.Terms = append(sq.Terms, storage.TermFilter{Field: "state", Value: string(q.State)})
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		sq.Ranges = append(sq.Ranges, storage.RangeFilter{Field: "timestamp", From: q.From, To: q.To})
	}
	return sq
}

// Search returns matching records newest first, and the total match count.
func (s *Store) Search(ctx context.Context, q RecordQuery) ([]Hit, int64, error) {
	res, err := s.backend.Search(ctx, q.query())
	if err != nil {
		return nil, 0, errors.Wrap(err, "search history")
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Partition: h.Partition, Source: h.Source})
	}
	return hits, res.Total, nil
}

// Aggregate buckets the records matching q by each distinct value of field.
// Each bucket counts records, so a value repeated inside one record counts
// once.
func (s *Store) Aggregate(ctx context.Context, q RecordQuery, field string, size int) ([]storage.Bucket, error) {
	sq := q.query()
	sq.Size = 0
	sq.Aggregations = []storage.TermsAggregation{{Name: field, Field: field, Size: size}}

	res, err := s.backend.Search(ctx, sq)
	if err != nil {
		return nil, errors.Wrapf(err, "aggregate history on %s", field)
	}
	buckets := res.Aggregations[field]
	if buckets == nil {
		buckets = []storage.Bucket{}
	}
	return buckets, nil
}
