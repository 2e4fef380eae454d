// Package actions runs the actions of a watch. Every action type is an
// Executor registered by type; the registry adds throttling, panic
// isolation and metrics around them.
package actions

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

// Executor runs one action type. Execute never returns an error: failures
// are reported in the result.
type Executor interface {
	Type() domain.ActionType
	Execute(ctx context.Context, ectx *domain.ExecutionContext, spec domain.ActionSpec) domain.ActionResult
}

// MetricsSink defines the action metrics. All methods must be non-blocking.
type MetricsSink interface {
	ActionCompleted(actionType, status string)
}

type Registry struct {
	mu        sync.RWMutex
	executors map[domain.ActionType]Executor
	throttler *Throttler
	logger    *zap.SugaredLogger
	metrics   MetricsSink // optional, nil = disabled
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		executors: make(map[domain.ActionType]Executor),
		throttler: NewThrottler(clock.RealClock{}),
		logger:    logger,
	}
}

// WithClock sets the clock throttle periods are measured on.
func (r *Registry) WithClock(c clock.PassiveClock) *Registry {
	r.throttler = NewThrottler(c)
	return r
}

func (r *Registry) WithMetrics(sink MetricsSink) *Registry {
	r.metrics = sink
	return r
}

// Register adds or replaces the executor for its type.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Type()] = e
}

// Forget drops the throttle state of a removed watch.
func (r *Registry) Forget(watchID string) {
	r.throttler.Forget(watchID)
}

func (r *Registry) Has(t domain.ActionType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[t]
	return ok
}

// Execute runs spec for the execution. A panicking executor yields a
// failure result; it never escapes.
func (r *Registry) Execute(ctx context.Context, ectx *domain.ExecutionContext, spec domain.ActionSpec) (res domain.ActionResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorw("actions: executor panicked", "watch_id", ectx.WatchID, "action_id", spec.ID, "panic", p)
			res = domain.Failure(spec, fmt.Sprintf("panic: %v", p))
		}
		if r.metrics != nil {
			r.metrics.ActionCompleted(string(spec.Type), string(res.Status))
		}
	}()

	r.mu.RLock()
	e, ok := r.executors[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return domain.Failure(spec, fmt.Sprintf("unknown action type %q", spec.Type))
	}

	if ok, reason := r.throttler.Allow(ectx.WatchID, spec); !ok {
		r.logger.Infow("actions: throttled", "watch_id", ectx.WatchID, "action_id", spec.ID, "reason", reason)
		return domain.Throttled(spec, reason)
	}

	res = e.Execute(ctx, ectx, spec)
	res.ID = spec.ID
	res.Type = spec.Type
	return res
}
