// Package engine executes watches: it resolves the watch, fetches its
// input, evaluates its condition, runs its actions and hands the finished
// record to history.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

// ErrWatchNotFound is returned when the triggered watch is no longer
// registered. The execution is still recorded.
var ErrWatchNotFound = errors.New("engine: watch not found")

type WatchSource interface {
	Get(id string) (domain.Watch, bool)
}

type InputFetcher interface {
	Fetch(ctx context.Context, spec domain.InputSpec) (map[string]any, error)
}

type ConditionEvaluator interface {
	Evaluate(ctx context.Context, spec domain.ConditionSpec, payload map[string]any) (bool, error)
}

// ActionRunner runs one action and reports its outcome. It must not panic.
type ActionRunner interface {
	Execute(ctx context.Context, ectx *domain.ExecutionContext, spec domain.ActionSpec) domain.ActionResult
}

type HistoryWriter interface {
	Put(ctx context.Context, rec domain.WatchRecord) error
}

type AnalyticsSink interface {
	Record(ctx context.Context, rec domain.WatchRecord)
}

// MetricsSink defines the interface for recording engine metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ExecutionCompleted(state string, duration time.Duration)
	ExecutionQueued()
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
}

type Engine struct {
	watches    WatchSource
	inputs     InputFetcher
	conditions ConditionEvaluator
	actions    ActionRunner
	history    HistoryWriter
	logger     *zap.SugaredLogger
	clock      clock.PassiveClock
	analytics  AnalyticsSink // optional, nil = disabled
	metrics    MetricsSink   // optional, nil = disabled
}

func New(watches WatchSource, inputs InputFetcher, conditions ConditionEvaluator, actions ActionRunner, history HistoryWriter, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		watches:    watches,
		inputs:     inputs,
		conditions: conditions,
		actions:    actions,
		history:    history,
		logger:     logger,
		clock:      clock.RealClock{},
	}
}

// WithClock sets the clock execution times are read from.
func (e *Engine) WithClock(c clock.PassiveClock) *Engine {
	e.clock = c
	return e
}

func (e *Engine) WithAnalytics(sink AnalyticsSink) *Engine {
	e.analytics = sink
	return e
}

func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// Execute runs one trigger event to a terminal state and persists the
// record. The returned record is always non-nil. The error reports a
// missing watch or a history write failure; stage failures are recorded,
// not returned.
func (e *Engine) Execute(ctx context.Context, event domain.TriggerEvent) (*domain.WatchRecord, error) {
	if e.metrics != nil {
		e.metrics.ExecutionsInFlightIncr()
		defer e.metrics.ExecutionsInFlightDecr()
	}

	start := e.clock.Now()
	rec := domain.NewWatchRecord(event, start.UTC())
	rec.State = domain.ExecutionStateChecking

	var execErr error
	watch, ok := e.watches.Get(event.WatchID)
	if ok {
		e.run(ctx, rec, watch, start)
	} else {
		execErr = errors.Wrapf(ErrWatchNotFound, "%s", event.WatchID)
		rec.Fail(domain.ReasonWatchMissing)
	}

	if err := e.finish(ctx, rec, start); err != nil {
		if execErr != nil {
			return rec, errors.WithSecondaryError(execErr, err)
		}
		return rec, err
	}
	return rec, execErr
}

func (e *Engine) run(ctx context.Context, rec *domain.WatchRecord, watch domain.Watch, start time.Time) {
	ectx := &domain.ExecutionContext{
		WatchID:       watch.ID,
		Watch:         watch,
		Event:         rec.TriggerEvent,
		ExecutionTime: start.UTC(),
		Record:        rec,
	}

	payload, err := e.inputs.Fetch(ctx, watch.Input)
	if err != nil {
		rec.Fail(domain.ReasonInputFailed + ": " + err.Error())
		return
	}
	ectx.Payload = payload
	rec.Input = payload

	met, err := e.conditions.Evaluate(ctx, watch.Condition, payload)
	if err != nil {
		rec.Fail(domain.ReasonConditionFailed + ": " + err.Error())
		return
	}
	ectx.ConditionMet = met
	rec.ConditionResult = &domain.ConditionResult{Met: met}

	for _, spec := range watch.Actions {
		if !met {
			rec.AddActionResult(domain.Skipped(spec, domain.ReasonConditionNotMet))
			continue
		}
		res := e.actions.Execute(ctx, ectx, spec)
		if res.Status == domain.ActionStatusFailure {
			e.logger.Warnw("engine: action failed", "watch_id", watch.ID, "record_id", rec.ID, "action_id", spec.ID, "reason", res.Reason)
		}
		rec.AddActionResult(res)
	}
	rec.State = domain.ExecutionStateExecuted
}

// finish writes the record. The write is not cancelled with ctx so an
// execution that ran is always recorded.
func (e *Engine) finish(ctx context.Context, rec *domain.WatchRecord, start time.Time) error {
	duration := e.clock.Since(start)

	if e.metrics != nil {
		e.metrics.ExecutionCompleted(string(rec.State), duration)
	}
	if e.analytics != nil {
		e.analytics.Record(ctx, *rec)
	}

	e.logger.Infow("engine: execution finished",
		"watch_id", rec.WatchID,
		"record_id", rec.ID,
		"state", rec.State,
		"reason", rec.Reason,
		"manual", rec.TriggerEvent.Manual,
		"duration", duration,
	)

	if err := e.history.Put(context.WithoutCancel(ctx), *rec); err != nil {
		return errors.Wrapf(err, "record %s", rec.ID)
	}
	return nil
}
