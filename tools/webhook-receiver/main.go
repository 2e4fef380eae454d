// Command webhook-receiver is a local sink for watch webhooks. It checks
// signatures and keeps the last requests for inspection.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/easy-watcher/internal/actions"
	"github.com/djlord-it/easy-watcher/internal/logging"
)

const maxStored = 50

type request struct {
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	WatchID   string `json:"watch_id"`
	RecordID  string `json:"record_id"`
	AttemptID string `json:"attempt_id"`
	// Verified is nil when the receiver has no secret.
	Verified *bool  `json:"verified,omitempty"`
	Body     string `json:"body"`
}

type stats struct {
	Count        int64            `json:"count"`
	Rejected     int64            `json:"rejected"`
	PerWatch     map[string]int64 `json:"per_watch"`
	LastRequests []request        `json:"last_requests"`
	Since        string           `json:"since"`
}

type receiver struct {
	secret string
	logger *zap.SugaredLogger
	now    func() time.Time

	mu           sync.Mutex
	count        int64
	rejected     int64
	perWatch     map[string]int64
	lastRequests []request
	since        time.Time
}

func newReceiver(secret string, logger *zap.SugaredLogger) *receiver {
	r := &receiver{secret: secret, logger: logger, now: time.Now}
	r.reset()
	return r
}

func (rc *receiver) reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.count = 0
	rc.rejected = 0
	rc.perWatch = make(map[string]int64)
	rc.lastRequests = nil
	rc.since = rc.now().UTC()
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", rc.hook)
	mux.HandleFunc("/stats", rc.stats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.reset()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})
	return mux
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	req := request{
		Timestamp: rc.now().UTC().Format(time.RFC3339Nano),
		Method:    r.Method,
		Path:      r.URL.Path,
		WatchID:   r.Header.Get(actions.HeaderWatchID),
		RecordID:  r.Header.Get(actions.HeaderRecordID),
		AttemptID: r.Header.Get(actions.HeaderAttemptID),
		Body:      string(body),
	}
	if rc.secret != "" {
		ok := actions.VerifySignature(rc.secret, body, r.Header.Get(actions.HeaderSignature))
		req.Verified = &ok
	}

	rc.mu.Lock()
	if req.Verified != nil && !*req.Verified {
		rc.rejected++
		rc.mu.Unlock()
		rc.logger.Warnw("webhook-receiver: bad signature", "watch_id", req.WatchID, "attempt_id", req.AttemptID)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	rc.count++
	rc.perWatch[req.WatchID]++
	rc.lastRequests = append(rc.lastRequests, req)
	if len(rc.lastRequests) > maxStored {
		rc.lastRequests = rc.lastRequests[len(rc.lastRequests)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	rc.logger.Infow("webhook-receiver: hook received", "n", current, "watch_id", req.WatchID, "record_id", req.RecordID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	perWatch := make(map[string]int64, len(rc.perWatch))
	for k, v := range rc.perWatch {
		perWatch[k] = v
	}
	s := stats{
		Count:        rc.count,
		Rejected:     rc.rejected,
		PerWatch:     perWatch,
		LastRequests: append([]request(nil), rc.lastRequests...),
		Since:        rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func main() {
	logger, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	rc := newReceiver(os.Getenv("WEBHOOK_SECRET"), logger)

	logger.Infow("webhook-receiver: listening", "addr", addr, "verify_signatures", rc.secret != "")
	if err := http.ListenAndServe(addr, rc.routes()); err != nil {
		logger.Fatalw("webhook-receiver: server error", "error", err)
	}
}
