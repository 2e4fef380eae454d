// Package scheduler emits trigger events for watches whose schedule is due.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

type WatchSource interface {
	List() []domain.Watch
	Get(id string) (domain.Watch, bool)
}

type ScheduleEvaluator interface {
	Next(spec domain.ScheduleSpec, after time.Time) (time.Time, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.TriggerEvent) error
}

// MetricsSink defines the scheduler metrics. All methods must be
// non-blocking.
type MetricsSink interface {
	TickCompleted(duration time.Duration, watches int)
	TriggerEmitted(manual bool)
	TriggerEmitFailed()
	ScheduleError()
}

type Config struct {
	TickInterval time.Duration
}

// entry is the schedule state of one watch. It is rebuilt whenever the
// watch version changes.
type entry struct {
	version int64
	next    time.Time
}

type Scheduler struct {
	config    Config
	watches   WatchSource
	evaluator ScheduleEvaluator
	emitter   EventEmitter
	clock     clock.WithTicker
	logger    *zap.SugaredLogger
	metrics   MetricsSink // optional, nil = disabled

	mu      sync.Mutex
	entries map[string]entry
}

func New(config Config, watches WatchSource, evaluator ScheduleEvaluator, emitter EventEmitter, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		config:    config,
		watches:   watches,
		evaluator: evaluator,
		emitter:   emitter,
		clock:     clock.RealClock{},
		logger:    logger,
		entries:   make(map[string]entry),
	}
}

// WithClock sets the clock the scheduler ticks on and reads time from.
func (s *Scheduler) WithClock(c clock.WithTicker) *Scheduler {
	s.clock = c
	return s
}

func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Infow("scheduler: started", "tick", s.config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Tick emits one event for every watch due at the current time and returns
// how many were emitted. A due watch is rescheduled from now, so fire times
// missed while the scheduler was behind are not replayed.
func (s *Scheduler) Tick(ctx context.Context) int {
	start := s.clock.Now()
	now := start.UTC()

	s.mu.Lock()
	watches := s.sync(now)
	var due []domain.Watch
	var scheduled []time.Time
	for _, w := range watches {
		e, ok := s.entries[w.ID]
		if !ok || e.next.After(now) {
			continue
		}
		due = append(due, w)
		scheduled = append(scheduled, e.next)
		s.schedule(w, now)
	}
	s.mu.Unlock()

	emitted := 0
	for i, w := range due {
		event := domain.TriggerEvent{
			ID:            uuid.New(),
			WatchID:       w.ID,
			ScheduledTime: scheduled[i],
			TriggeredTime: now,
		}
		if err := s.emit(ctx, event); err != nil {
			s.logger.Errorw("scheduler: emit failed", "watch_id", w.ID, "scheduled_time", scheduled[i], "error", err)
			continue
		}
		emitted++
	}

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock.Since(start), len(watches))
	}
	return emitted
}

// Trigger emits an event for watchID immediately, outside its schedule.
// The regular schedule is unchanged.
func (s *Scheduler) Trigger(ctx context.Context, watchID string) (domain.TriggerEvent, error) {
	if _, ok := s.watches.Get(watchID); !ok {
		return domain.TriggerEvent{}, errors.Newf("watch %q is not registered", watchID)
	}
	now := s.clock.Now().UTC()
	event := domain.TriggerEvent{
		ID:            uuid.New(),
		WatchID:       watchID,
		ScheduledTime: now,
		TriggeredTime: now,
		Manual:        true,
	}
	if err := s.emit(ctx, event); err != nil {
		return domain.TriggerEvent{}, errors.Wrapf(err, "trigger %s", watchID)
	}
	return event, nil
}

// NextFireTime reports when watchID fires next, as last computed.
func (s *Scheduler) NextFireTime(watchID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[watchID]
	return e.next, ok
}

// nextDue returns the earliest fire time across all watches.
func (s *Scheduler) nextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sync(s.clock.Now().UTC())
	var earliest time.Time
	for _, e := range s.entries {
		if earliest.IsZero() || e.next.Before(earliest) {
			earliest = e.next
		}
	}
	return earliest, !earliest.IsZero()
}

// sync reconciles entries with the registry: new or updated watches are
// scheduled from their last update, deleted ones are dropped. Callers hold
// s.mu.
func (s *Scheduler) sync(now time.Time) []domain.Watch {
	watches := s.watches.List()
	seen := make(map[string]bool, len(watches))
	for _, w := range watches {
		seen[w.ID] = true
		if e, ok := s.entries[w.ID]; ok && e.version == w.Version {
			continue
		}
		base := w.UpdatedAt
		if base.IsZero() || base.After(now) {
			base = now
		}
		s.schedule(w, base)
	}
	for id := range s.entries {
		if !seen[id] {
			delete(s.entries, id)
		}
	}
	return watches
}

func (s *Scheduler) schedule(w domain.Watch, after time.Time) {
	next, err := s.evaluator.Next(w.Trigger, after)
	if err != nil {
		delete(s.entries, w.ID)
		s.logger.Warnw("scheduler: watch has no next fire time", "watch_id", w.ID, "schedule", w.Trigger.String(), "error", err)
		if s.metrics != nil {
			s.metrics.ScheduleError()
		}
		return
	}
	s.entries[w.ID] = entry{version: w.Version, next: next}
}

func (s *Scheduler) emit(ctx context.Context, event domain.TriggerEvent) error {
	if err := s.emitter.Emit(ctx, event); err != nil {
		if s.metrics != nil {
			s.metrics.TriggerEmitFailed()
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.TriggerEmitted(event.Manual)
	}
	s.logger.Debugw("scheduler: emitted", "watch_id", event.WatchID, "scheduled_time", event.ScheduledTime, "manual", event.Manual)
	return nil
}
