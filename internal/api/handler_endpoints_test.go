package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/history"
	"github.com/djlord-it/easy-watcher/internal/registry"
	"github.com/djlord-it/easy-watcher/internal/schedule"
	"github.com/djlord-it/easy-watcher/internal/storage"
	"github.com/djlord-it/easy-watcher/internal/storage/memory"
)

var fired = time.Date(2024, 1, 15, 10, 0, 5, 0, time.UTC)

// mockHistory implements HistorySearcher for failure paths.
type mockHistory struct {
	mu          sync.Mutex
	searchFn    func(ctx context.Context, q history.RecordQuery) ([]history.Hit, int64, error)
	aggregateFn func(ctx context.Context, q history.RecordQuery, field string, size int) ([]storage.Bucket, error)
}

func (m *mockHistory) Search(ctx context.Context, q history.RecordQuery) ([]history.Hit, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return nil, 0, nil
}

func (m *mockHistory) Aggregate(ctx context.Context, q history.RecordQuery, field string, size int) ([]storage.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aggregateFn != nil {
		return m.aggregateFn(ctx, q, field, size)
	}
	return nil, nil
}

// mockHealthChecker implements HealthChecker for handler tests.
type mockHealthChecker struct {
	mu     sync.Mutex
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

type fixedSchedule map[string]time.Time

func (f fixedSchedule) NextFireTime(id string) (time.Time, bool) {
	t, ok := f[id]
	return t, ok
}

func newRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()
	r := registry.New(schedule.NewEvaluator()).WithClock(clocktesting.NewFakeClock(fired))
	for _, id := range ids {
		_, err := r.Put(domain.Watch{
			ID:      id,
			Trigger: domain.Interval(5 * time.Second),
			Input:   domain.InputSpec{Type: domain.InputTypeSimple, Simple: map[string]any{"k": "v"}},
			Actions: []domain.ActionSpec{{
				ID:             "_email",
				Type:           domain.ActionTypeEmail,
				ThrottlePeriod: time.Minute,
				Email:          &domain.EmailTemplate{From: "from@example.com", To: []string{"to1@example.com"}},
			}},
			Metadata: map[string]string{"team": "ops"},
		})
		if err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}
	return r
}

func emailRecord(watchID string, state domain.ExecutionState, to ...string) domain.WatchRecord {
	rec := domain.NewWatchRecord(domain.TriggerEvent{
		ID:            uuid.New(),
		WatchID:       watchID,
		ScheduledTime: fired,
		TriggeredTime: fired,
	}, fired)
	rec.State = state
	rec.AddActionResult(domain.ActionResult{
		ID:     "_email",
		Type:   domain.ActionTypeEmail,
		Status: domain.ActionStatusSuccess,
		Email: &domain.EmailResult{Account: "test", Message: domain.Email{
			From: "from@example.com",
			To:   to,
		}},
	})
	return *rec
}

func newHistory(t *testing.T, records ...domain.WatchRecord) *history.Store {
	t.Helper()
	store := history.NewStore(memory.New(), zap.NewNop().Sugar())
	for _, rec := range records {
		if err := store.Put(context.Background(), rec); err != nil {
			t.Fatalf("Put record: %v", err)
		}
	}
	return store
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth_Simple(t *testing.T) {
	h := NewHandler(newRegistry(t, "a", "b"), &mockHistory{}, zap.NewNop().Sugar())

	rec := serve(h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	resp := decode[HealthResponse](t, rec)
	if resp.Status != "ok" || resp.Watches != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Components != nil {
		t.Error("components should be omitted without verbose")
	}
}

func TestHealth_VerboseDegraded(t *testing.T) {
	hc := &mockHealthChecker{pingFn: func(ctx context.Context) error { return errors.New("connection refused") }}
	h := NewHandler(newRegistry(t), &mockHistory{}, zap.NewNop().Sugar()).WithHealthChecker(hc)

	rec := serve(h, http.MethodGet, "/health?verbose=true")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	resp := decode[HealthResponse](t, rec)
	if resp.Status != "degraded" {
		t.Errorf("expected degraded, got %q", resp.Status)
	}
	if resp.Components["history"] != "unhealthy: connection refused" {
		t.Errorf("history component = %q", resp.Components["history"])
	}
}

func TestHealth_VerboseHealthy(t *testing.T) {
	h := NewHandler(newRegistry(t), &mockHistory{}, zap.NewNop().Sugar()).WithHealthChecker(&mockHealthChecker{})

	rec := serve(h, http.MethodGet, "/health?verbose=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decode[HealthResponse](t, rec); resp.Components["history"] != "healthy" {
		t.Errorf("history component = %q", resp.Components["history"])
	}
}

func TestListWatches(t *testing.T) {
	next := fired.Add(5 * time.Second)
	h := NewHandler(newRegistry(t, "b", "a"), &mockHistory{}, zap.NewNop().Sugar()).
		WithScheduler(fixedSchedule{"a": next})

	rec := serve(h, http.MethodGet, "/watches")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	resp := decode[ListWatchesResponse](t, rec)
	if len(resp.Watches) != 2 {
		t.Fatalf("expected 2 watches, got %d", len(resp.Watches))
	}

	a := resp.Watches[0]
	if a.ID != "a" {
		t.Errorf("watches should be sorted by id, first is %q", a.ID)
	}
	if a.Trigger != "interval 5s" || a.Input != "simple" || a.Condition != "always" {
		t.Errorf("unexpected watch %+v", a)
	}
	if len(a.Actions) != 1 || a.Actions[0].Type != "email" || a.Actions[0].ThrottlePeriod != "1m0s" {
		t.Errorf("unexpected actions %+v", a.Actions)
	}
	if a.NextFireTime != "2024-01-15T10:00:10Z" {
		t.Errorf("NextFireTime = %q", a.NextFireTime)
	}
	if resp.Watches[1].NextFireTime != "" {
		t.Error("unscheduled watch should omit next_fire_time")
	}
}

func TestGetWatch(t *testing.T) {
	h := NewHandler(newRegistry(t, "disk"), &mockHistory{}, zap.NewNop().Sugar())

	rec := serve(h, http.MethodGet, "/watches/disk")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[WatchResponse](t, rec)
	if resp.ID != "disk" || resp.Version != 1 || resp.Metadata["team"] != "ops" {
		t.Errorf("unexpected watch %+v", resp)
	}
	if resp.CreatedAt != "2024-01-15T10:00:05Z" {
		t.Errorf("CreatedAt = %q", resp.CreatedAt)
	}
}

func TestGetWatch_NotFound(t *testing.T) {
	h := NewHandler(newRegistry(t), &mockHistory{}, zap.NewNop().Sugar())

	for _, path := range []string{"/watches/missing", "/watches/", "/watches/a/b"} {
		if rec := serve(h, http.MethodGet, path); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestListRecords(t *testing.T) {
	store := newHistory(t,
		emailRecord("w1", domain.ExecutionStateExecuted, "to1@example.com"),
		emailRecord("w1", domain.ExecutionStateFailed, "to1@example.com"),
		emailRecord("w2", domain.ExecutionStateExecuted, "to2@example.com"),
	)
	h := NewHandler(newRegistry(t), store, zap.NewNop().Sugar())

	rec := serve(h, http.MethodGet, "/records?watch_id=w1&state=executed")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[ListRecordsResponse](t, rec)
	if resp.Total != 1 || len(resp.Records) != 1 {
		t.Fatalf("expected 1 record, got total=%d records=%d", resp.Total, len(resp.Records))
	}
	if resp.Records[0].Source["watch_id"] != "w1" || resp.Records[0].Source["state"] != "executed" {
		t.Errorf("unexpected source %v", resp.Records[0].Source)
	}
	if resp.Records[0].Partition != history.PartitionName(fired) {
		t.Errorf("partition = %q", resp.Records[0].Partition)
	}
}

func TestListRecords_Limit(t *testing.T) {
	store := newHistory(t,
		emailRecord("w1", domain.ExecutionStateExecuted),
		emailRecord("w1", domain.ExecutionStateExecuted),
		emailRecord("w1", domain.ExecutionStateExecuted),
	)
	h := NewHandler(newRegistry(t), store, zap.NewNop().Sugar())

	resp := decode[ListRecordsResponse](t, serve(h, http.MethodGet, "/records?limit=2"))
	if resp.Total != 3 || len(resp.Records) != 2 {
		t.Errorf("expected total 3 with 2 records, got total=%d records=%d", resp.Total, len(resp.Records))
	}
}

func TestListRecords_BadRequest(t *testing.T) {
	h := NewHandler(newRegistry(t), &mockHistory{}, zap.NewNop().Sugar())

	for _, target := range []string{
		"/records?state=done",
		"/records?from=yesterday",
		"/records?limit=5000",
	} {
		if rec := serve(h, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestListRecords_StoreError(t *testing.T) {
	hist := &mockHistory{searchFn: func(ctx context.Context, q history.RecordQuery) ([]history.Hit, int64, error) {
		return nil, 0, errors.New("backend down")
	}}
	h := NewHandler(newRegistry(t), hist, zap.NewNop().Sugar())

	rec := serve(h, http.MethodGet, "/records")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Error != "failed to search records" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestAggregateRecords(t *testing.T) {
	store := newHistory(t,
		emailRecord("w1", domain.ExecutionStateExecuted, "to1@example.com", "to2@example.com"),
		emailRecord("w1", domain.ExecutionStateExecuted, "to1@example.com"),
	)
	h := NewHandler(newRegistry(t), store, zap.NewNop().Sugar())

	rec := serve(h, http.MethodGet, "/records/aggregations?field=actions_results._email.email.to&watch_id=w1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[AggregationResponse](t, rec)
	want := []BucketResponse{{Key: "to1@example.com", DocCount: 2}, {Key: "to2@example.com", DocCount: 1}}
	if len(resp.Buckets) != len(want) {
		t.Fatalf("buckets = %+v", resp.Buckets)
	}
	for i := range want {
		if resp.Buckets[i] != want[i] {
			t.Errorf("bucket %d = %+v, want %+v", i, resp.Buckets[i], want[i])
		}
	}
}

func TestAggregateRecords_BadRequest(t *testing.T) {
	store := newHistory(t, emailRecord("w1", domain.ExecutionStateExecuted, "to1@example.com"))
	h := NewHandler(newRegistry(t), store, zap.NewNop().Sugar())

	for _, target := range []string{
		"/records/aggregations",
		"/records/aggregations?field=actions_results._email.email.subject",
		"/records/aggregations?field=watch_id&size=-1",
	} {
		if rec := serve(h, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestRouting(t *testing.T) {
	h := NewHandler(newRegistry(t), &mockHistory{}, zap.NewNop().Sugar())

	if rec := serve(h, http.MethodGet, "/unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodPost, "/watches"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/health"); rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}
