package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/history"
	"github.com/djlord-it/easy-watcher/internal/storage"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000

	DefaultBuckets = 10
	MaxBuckets     = 1000
)

type WatchSource interface {
	List() []domain.Watch
	Get(id string) (domain.Watch, bool)
}

// NextFireTimer reports when a watch is next due.
type NextFireTimer interface {
	NextFireTime(watchID string) (time.Time, bool)
}

type HistorySearcher interface {
	Search(ctx context.Context, q history.RecordQuery) ([]history.Hit, int64, error)
	Aggregate(ctx context.Context, q history.RecordQuery, field string, size int) ([]storage.Bucket, error)
}

// HealthChecker provides history backend status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	watches   WatchSource
	history   HistorySearcher
	logger    *zap.SugaredLogger
	scheduler NextFireTimer // optional, nil = next_fire_time omitted
	backend   HealthChecker // optional, nil = no verbose health
}

func NewHandler(watches WatchSource, history HistorySearcher, logger *zap.SugaredLogger) *Handler {
	return &Handler{watches: watches, history: history, logger: logger}
}

func (h *Handler) WithScheduler(s NextFireTimer) *Handler {
	h.scheduler = s
	return h
}

// WithHealthChecker sets the history backend checked by verbose /health responses.
func (h *Handler) WithHealthChecker(hc HealthChecker) *Handler {
	h.backend = hc
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch {
	case path == "/health":
		h.health(w, r)

	case path == "/watches":
		h.listWatches(w, r)

	case strings.HasPrefix(path, "/watches/"):
		h.getWatch(w, r)

	case path == "/records":
		h.listRecords(w, r)

	case path == "/records/aggregations":
		h.aggregateRecords(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Watches    int               `json:"watches"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Watches: len(h.watches.List())}

	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || h.backend == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Components = make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.backend.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["history"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["history"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) listWatches(w http.ResponseWriter, r *http.Request) {
	watches := h.watches.List()

	resp := ListWatchesResponse{Watches: make([]WatchResponse, len(watches))}
	for i, watch := range watches {
		resp.Watches[i] = h.watchResponse(watch)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getWatch(w http.ResponseWriter, r *http.Request) {
	// Extract watch ID from path: /watches/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	watch, ok := h.watches.Get(parts[1])
	if !ok {
		writeError(w, http.StatusNotFound, "watch not found")
		return
	}

	writeJSON(w, http.StatusOK, h.watchResponse(watch))
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	q, err := parseRecordQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q.Size, err = parseLimit(r, "limit", DefaultLimit, MaxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hits, total, err := h.history.Search(r.Context(), q)
	if err != nil {
		h.logger.Errorw("api: search records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to search records")
		return
	}

	writeJSON(w, http.StatusOK, ListRecordsResponse{Total: total, Records: hits})
}

func (h *Handler) aggregateRecords(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	if err := validateField(field); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := parseRecordQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	size, err := parseLimit(r, "size", DefaultBuckets, MaxBuckets)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	buckets, err := h.history.Aggregate(r.Context(), q, field, size)
	if errors.Is(err, storage.ErrNotAggregatable) {
		writeError(w, http.StatusBadRequest, "field "+field+" is not aggregatable")
		return
	}
	if err != nil {
		h.logger.Errorw("api: aggregate records failed", "field", field, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to aggregate records")
		return
	}

	resp := AggregationResponse{Field: field, Buckets: make([]BucketResponse, len(buckets))}
	for i, b := range buckets {
		resp.Buckets[i] = BucketResponse{Key: b.Key, DocCount: b.DocCount}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) watchResponse(watch domain.Watch) WatchResponse {
	resp := WatchResponse{
		ID:        watch.ID,
		Trigger:   watch.Trigger.String(),
		Input:     string(watch.Input.Type),
		Condition: string(watch.Condition.Type),
		Actions:   make([]ActionResponse, len(watch.Actions)),
		Metadata:  watch.Metadata,
		Version:   watch.Version,
		CreatedAt: formatTime(watch.CreatedAt),
		UpdatedAt: formatTime(watch.UpdatedAt),
	}
	for i, a := range watch.Actions {
		resp.Actions[i] = ActionResponse{ID: a.ID, Type: string(a.Type)}
		if a.ThrottlePeriod > 0 {
			resp.Actions[i].ThrottlePeriod = a.ThrottlePeriod.String()
		}
	}
	if h.scheduler != nil {
		if next, ok := h.scheduler.NextFireTime(watch.ID); ok {
			resp.NextFireTime = formatTime(next)
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseLimit reads a positive count query parameter. Missing or zero means
// def; values above max are rejected.
func parseLimit(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	if n > max {
		return 0, &limitExceededError{name: name, max: max}
	}
	if n == 0 {
		return def, nil
	}
	return n, nil
}

type limitExceededError struct {
	name string
	max  int
}

func (e *limitExceededError) Error() string {
	return e.name + " exceeds maximum of " + strconv.Itoa(e.max)
}
