// Package analytics keeps per-watch execution counters in Redis, bucketed by
// time window.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

const (
	DefaultWindow    = 5 * time.Minute
	DefaultRetention = 7 * 24 * time.Hour
)

type RedisSink struct {
	client    redis.Cmdable
	window    time.Duration
	retention time.Duration
	logger    *zap.SugaredLogger
}

func NewRedisSink(client redis.Cmdable, logger *zap.SugaredLogger) *RedisSink {
	return &RedisSink{
		client:    client,
		window:    DefaultWindow,
		retention: DefaultRetention,
		logger:    logger,
	}
}

// WithWindow sets the bucket width. Only 1m, 5m and 1h buckets are
// distinct; any other width falls back to minute buckets.
func (s *RedisSink) WithWindow(window time.Duration) *RedisSink {
	if window > 0 {
		s.window = window
	}
	return s
}

func (s *RedisSink) WithRetention(retention time.Duration) *RedisSink {
	if retention > 0 {
		s.retention = retention
	}
	return s
}

// Record increments the counter for rec and logs failures. Analytics never
// affect the execution outcome.
func (s *RedisSink) Record(ctx context.Context, rec domain.WatchRecord) {
	if err := s.Write(ctx, rec); err != nil {
		s.logger.Warnw("analytics: write failed", "watch_id", rec.WatchID, "record_id", rec.ID, "error", err)
	}
}

// Write increments the bucket counter for the record's watch and state and
// refreshes its TTL in a single pipeline.
func (s *RedisSink) Write(ctx context.Context, rec domain.WatchRecord) error {
	key := BuildKey(rec.WatchID, rec.State, rec.TriggerEvent.TriggeredTime, s.window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline")
	}
	return nil
}

// BuildKey returns "w:<watch>:<state>:<bucket>".
func BuildKey(watchID string, state domain.ExecutionState, t time.Time, window time.Duration) string {
	return fmt.Sprintf("w:%s:%s:%s", watchID, state, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
