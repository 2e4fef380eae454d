package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/djlord-it/easy-watcher/internal/actions"
	"github.com/djlord-it/easy-watcher/internal/condition"
	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/input"
	"github.com/djlord-it/easy-watcher/internal/registry"
	"github.com/djlord-it/easy-watcher/internal/schedule"
)

// mockHistory records every persisted record.
type mockHistory struct {
	mu      sync.Mutex
	records []domain.WatchRecord
	err     error
}

func (h *mockHistory) Put(_ context.Context, rec domain.WatchRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *mockHistory) all() []domain.WatchRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.WatchRecord, len(h.records))
	copy(out, h.records)
	return out
}

// funcExecutor runs fn for every action of its type.
type funcExecutor struct {
	typ domain.ActionType
	fn  func(ectx *domain.ExecutionContext, spec domain.ActionSpec) domain.ActionResult
}

func (f funcExecutor) Type() domain.ActionType { return f.typ }

func (f funcExecutor) Execute(_ context.Context, ectx *domain.ExecutionContext, spec domain.ActionSpec) domain.ActionResult {
	return f.fn(ectx, spec)
}

func succeed(*domain.ExecutionContext, domain.ActionSpec) domain.ActionResult {
	return domain.ActionResult{Status: domain.ActionStatusSuccess}
}

type mockMetrics struct {
	mu       sync.Mutex
	states   []string
	queued   int
	inFlight int
}

func (m *mockMetrics) ExecutionCompleted(state string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}
func (m *mockMetrics) ExecutionQueued()        { m.mu.Lock(); m.queued++; m.mu.Unlock() }
func (m *mockMetrics) ExecutionsInFlightIncr() { m.mu.Lock(); m.inFlight++; m.mu.Unlock() }
func (m *mockMetrics) ExecutionsInFlightDecr() { m.mu.Lock(); m.inFlight--; m.mu.Unlock() }

type mockAnalytics struct {
	mu      sync.Mutex
	records []domain.WatchRecord
}

func (a *mockAnalytics) Record(_ context.Context, rec domain.WatchRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

type fixture struct {
	clock   *clocktesting.FakeClock
	watches *registry.Registry
	actions *actions.Registry
	history *mockHistory
	metrics *mockMetrics
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	f := &fixture{
		clock:   clk,
		watches: registry.New(schedule.NewEvaluator()).WithClock(clk),
		actions: actions.NewRegistry(zap.NewNop().Sugar()).WithClock(clk),
		history: &mockHistory{},
		metrics: &mockMetrics{},
	}
	f.actions.Register(funcExecutor{typ: domain.ActionTypeLogging, fn: succeed})
	f.engine = New(f.watches, input.NewDefaultRegistry(), condition.NewDefaultRegistry(), f.actions, f.history, zap.NewNop().Sugar()).
		WithClock(clk).
		WithMetrics(f.metrics)
	return f
}

func (f *fixture) put(t *testing.T, w domain.Watch) {
	t.Helper()
	if _, err := f.watches.Put(w); err != nil {
		t.Fatalf("put watch: %v", err)
	}
}

func (f *fixture) event(watchID string) domain.TriggerEvent {
	now := f.clock.Now()
	return domain.TriggerEvent{ID: uuid.New(), WatchID: watchID, ScheduledTime: now, TriggeredTime: now}
}

func loggingWatch(id string, cond domain.ConditionSpec, actionIDs ...string) domain.Watch {
	w := domain.Watch{
		ID:        id,
		Trigger:   domain.Interval(5 * time.Second),
		Input:     domain.InputSpec{Type: domain.InputTypeSimple, Simple: map[string]any{"count": 12}},
		Condition: cond,
	}
	for _, a := range actionIDs {
		w.Actions = append(w.Actions, domain.ActionSpec{
			ID:      a,
			Type:    domain.ActionTypeLogging,
			Logging: &domain.LoggingAction{Text: a},
		})
	}
	return w
}

func TestExecute_ConditionMet(t *testing.T) {
	f := newFixture(t)
	f.put(t, loggingWatch("w1", domain.ConditionSpec{Type: domain.ConditionTypeAlways}, "b", "a"))

	rec, err := f.engine.Execute(context.Background(), f.event("w1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State != domain.ExecutionStateExecuted {
		t.Errorf("state = %s, want executed", rec.State)
	}
	if rec.ConditionResult == nil || !rec.ConditionResult.Met {
		t.Errorf("condition result = %+v", rec.ConditionResult)
	}
	if rec.Input["count"] != 12 {
		t.Errorf("input = %v", rec.Input)
	}
	results := rec.Results()
	if len(results) != 2 || results[0].ID != "b" || results[1].ID != "a" {
		t.Fatalf("results out of declaration order: %+v", results)
	}
	for _, r := range results {
		if r.Status != domain.ActionStatusSuccess {
			t.Errorf("action %s status = %s", r.ID, r.Status)
		}
	}
	if got := f.history.all(); len(got) != 1 || got[0].ID != rec.ID {
		t.Errorf("history = %+v", got)
	}
	if len(f.metrics.states) != 1 || f.metrics.states[0] != "executed" {
		t.Errorf("metrics states = %v", f.metrics.states)
	}
	if f.metrics.inFlight != 0 {
		t.Errorf("in-flight gauge not balanced: %d", f.metrics.inFlight)
	}
}

func TestExecute_ConditionNotMet(t *testing.T) {
	f := newFixture(t)
	called := 0
	f.actions.Register(funcExecutor{typ: domain.ActionTypeLogging, fn: func(*domain.ExecutionContext, domain.ActionSpec) domain.ActionResult {
		called++
		return domain.ActionResult{Status: domain.ActionStatusSuccess}
	}})
	f.put(t, loggingWatch("w1", domain.ConditionSpec{
		Type:    domain.ConditionTypeCompare,
		Compare: &domain.CompareCondition{Path: "ctx.payload.count", Op: "gt", Value: 100},
	}, "a", "b"))

	rec, err := f.engine.Execute(context.Background(), f.event("w1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State != domain.ExecutionStateExecuted {
		t.Errorf("state = %s, want executed", rec.State)
	}
	if rec.ConditionResult == nil || rec.ConditionResult.Met {
		t.Errorf("condition result = %+v", rec.ConditionResult)
	}
	for _, r := range rec.Results() {
		if r.Status != domain.ActionStatusSkipped || r.Reason != domain.ReasonConditionNotMet {
			t.Errorf("action %s = %s (%s), want skipped", r.ID, r.Status, r.Reason)
		}
	}
	if called != 0 {
		t.Errorf("executor called %d times", called)
	}
}

func TestExecute_WatchMissing(t *testing.T) {
	f := newFixture(t)

	rec, err := f.engine.Execute(context.Background(), f.event("ghost"))
	if !errors.Is(err, ErrWatchNotFound) {
		t.Fatalf("err = %v, want ErrWatchNotFound", err)
	}
	if rec.State != domain.ExecutionStateFailed || rec.Reason != domain.ReasonWatchMissing {
		t.Errorf("record = %s (%s)", rec.State, rec.Reason)
	}
	if len(f.history.all()) != 1 {
		t.Error("missing-watch execution should still be recorded")
	}
}

func TestExecute_StageFailures(t *testing.T) {
	tests := []struct {
		name   string
		watch  func() domain.Watch
		prefix string
	}{
		{
			name: "unknown input",
			watch: func() domain.Watch {
				w := loggingWatch("w1", domain.ConditionSpec{Type: domain.ConditionTypeAlways}, "a")
				w.Input = domain.InputSpec{Type: "script"}
				return w
			},
			prefix: domain.ReasonInputFailed + ": ",
		},
		{
			name: "bad compare op",
			watch: func() domain.Watch {
				return loggingWatch("w1", domain.ConditionSpec{
					Type:    domain.ConditionTypeCompare,
					Compare: &domain.CompareCondition{Path: "ctx.payload.count", Op: "between", Value: 1},
				}, "a")
			},
			prefix: domain.ReasonConditionFailed + ": ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.put(t, tt.watch())

			rec, err := f.engine.Execute(context.Background(), f.event("w1"))
			if err != nil {
				t.Fatalf("stage failures are recorded, not returned: %v", err)
			}
			if rec.State != domain.ExecutionStateFailed {
				t.Errorf("state = %s", rec.State)
			}
			if !strings.HasPrefix(rec.Reason, tt.prefix) {
				t.Errorf("reason = %q, want prefix %q", rec.Reason, tt.prefix)
			}
			if len(rec.Results()) != 0 {
				t.Errorf("no action should run, got %+v", rec.Results())
			}
			if len(f.history.all()) != 1 {
				t.Error("failed execution should be recorded")
			}
		})
	}
}

func TestExecute_ActionFailuresIsolated(t *testing.T) {
	f := newFixture(t)
	f.actions.Register(funcExecutor{typ: domain.ActionTypeWebhook, fn: func(*domain.ExecutionContext, domain.ActionSpec) domain.ActionResult {
		panic("webhook exploded")
	}})
	w := loggingWatch("w1", domain.ConditionSpec{Type: domain.ConditionTypeAlways}, "first")
	w.Actions = append(w.Actions, domain.ActionSpec{ID: "hook", Type: domain.ActionTypeWebhook, Webhook: &domain.WebhookAction{URL: "http://x"}})
	w.Actions = append(w.Actions, domain.ActionSpec{ID: "last", Type: domain.ActionTypeLogging, Logging: &domain.LoggingAction{Text: "x"}})
	f.put(t, w)

	rec, err := f.engine.Execute(context.Background(), f.event("w1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State != domain.ExecutionStateExecuted {
		t.Errorf("state = %s", rec.State)
	}
	got := map[string]domain.ActionStatus{}
	for _, r := range rec.Results() {
		got[r.ID] = r.Status
	}
	want := map[string]domain.ActionStatus{
		"first": domain.ActionStatusSuccess,
		"hook":  domain.ActionStatusFailure,
		"last":  domain.ActionStatusSuccess,
	}
	for id, status := range want {
		if got[id] != status {
			t.Errorf("action %s = %s, want %s", id, got[id], status)
		}
	}
}

func TestExecute_HistoryFailureReturned(t *testing.T) {
	f := newFixture(t)
	f.history.err = errors.New("disk full")
	f.put(t, loggingWatch("w1", domain.ConditionSpec{Type: domain.ConditionTypeAlways}, "a"))

	rec, err := f.engine.Execute(context.Background(), f.event("w1"))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v", err)
	}
	if rec.State != domain.ExecutionStateExecuted {
		t.Errorf("state = %s", rec.State)
	}
}

func TestExecute_CancelledContextStillRecords(t *testing.T) {
	f := newFixture(t)
	f.put(t, loggingWatch("w1", domain.ConditionSpec{Type: domain.ConditionTypeAlways}, "a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.engine.Execute(ctx, f.event("w1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.history.all()) != 1 {
		t.Error("record should be written despite the cancelled context")
	}
}

func TestExecute_ManualEventAndAnalytics(t *testing.T) {
	f := newFixture(t)
	sink := &mockAnalytics{}
	f.engine.WithAnalytics(sink)
	f.put(t, loggingWatch("w1", domain.ConditionSpec{Type: domain.ConditionTypeAlways}, "a"))

	event := f.event("w1")
	event.Manual = true
	rec, err := f.engine.Execute(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.TriggerEvent.Manual {
		t.Error("manual flag lost")
	}
	if len(sink.records) != 1 || sink.records[0].State != domain.ExecutionStateExecuted {
		t.Errorf("analytics = %+v", sink.records)
	}
}

func TestExecute_WatchDeletedInFlight(t *testing.T) {
	f := newFixture(t)
	f.actions.Register(funcExecutor{typ: domain.ActionTypeLogging, fn: func(ectx *domain.ExecutionContext, _ domain.ActionSpec) domain.ActionResult {
		_ = f.watches.Delete(ectx.WatchID)
		return domain.ActionResult{Status: domain.ActionStatusSuccess}
	}})
	f.put(t, loggingWatch("w1", domain.ConditionSpec{Type: domain.ConditionTypeAlways}, "a", "b"))

	rec, err := f.engine.Execute(context.Background(), f.event("w1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State != domain.ExecutionStateExecuted || len(rec.Results()) != 2 {
		t.Errorf("in-flight execution should complete: %s %+v", rec.State, rec.Results())
	}
	if n := len(f.history.all()); n != 1 {
		t.Errorf("records = %d, want 1", n)
	}
	if _, ok := f.watches.Get("w1"); ok {
		t.Error("watch should be gone")
	}
}
