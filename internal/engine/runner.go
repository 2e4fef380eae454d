package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

// DefaultDrainTimeout is the maximum time to wait for in-flight and
// buffered executions during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// Runner consumes trigger events. Each watch id has its own lane: events
// for the same watch run one after the other in arrival order, events for
// different watches run concurrently.
type Runner struct {
	engine       *Engine
	logger       *zap.SugaredLogger
	drainTimeout time.Duration

	mu      sync.Mutex
	pending map[string][]domain.TriggerEvent // present while the lane is busy
	wg      sync.WaitGroup
}

func NewRunner(engine *Engine, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		engine:       engine,
		logger:       logger,
		drainTimeout: DefaultDrainTimeout,
		pending:      make(map[string][]domain.TriggerEvent),
	}
}

func (r *Runner) WithDrainTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.drainTimeout = d
	}
	return r
}

// Run processes events from ch until ctx is cancelled or ch is closed.
// After cancellation it drains buffered events and waits for running lanes,
// bounded by the drain timeout.
func (r *Runner) Run(ctx context.Context, ch <-chan domain.TriggerEvent) {
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			r.drain(execCtx, ch)
			r.wait(cancel)
			return
		case event, ok := <-ch:
			if !ok {
				r.wait(cancel)
				return
			}
			r.Submit(execCtx, event)
		}
	}
}

// Submit schedules event on its watch's lane.
func (r *Runner) Submit(ctx context.Context, event domain.TriggerEvent) {
	r.mu.Lock()
	if queue, busy := r.pending[event.WatchID]; busy {
		r.pending[event.WatchID] = append(queue, event)
		r.mu.Unlock()
		if r.engine.metrics != nil {
			r.engine.metrics.ExecutionQueued()
		}
		return
	}
	r.pending[event.WatchID] = nil
	r.wg.Add(1)
	r.mu.Unlock()

	go r.lane(ctx, event)
}

// Wait blocks until every submitted event has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) lane(ctx context.Context, event domain.TriggerEvent) {
	defer r.wg.Done()
	for {
		r.execute(ctx, event)

		r.mu.Lock()
		queue := r.pending[event.WatchID]
		if len(queue) == 0 {
			delete(r.pending, event.WatchID)
			r.mu.Unlock()
			return
		}
		event = queue[0]
		r.pending[event.WatchID] = queue[1:]
		r.mu.Unlock()
	}
}

func (r *Runner) execute(ctx context.Context, event domain.TriggerEvent) {
	rec, err := r.engine.Execute(ctx, event)
	if err != nil {
		r.logger.Errorw("engine: execution error", "watch_id", event.WatchID, "record_id", rec.ID, "error", err)
	}
}

func (r *Runner) drain(ctx context.Context, ch <-chan domain.TriggerEvent) {
	count := 0
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				r.logger.Infow("engine: drain complete", "events", count)
				return
			}
			r.Submit(ctx, event)
			count++
		default:
			if count > 0 {
				r.logger.Infow("engine: drain complete", "events", count)
			}
			return
		}
	}
}

func (r *Runner) wait(cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		r.logger.Warnw("engine: drain timeout, cancelling running executions", "timeout", r.drainTimeout)
		cancel()
		<-done
	}
}
