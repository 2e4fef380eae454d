package actions

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/djlord-it/easy-watcher/internal/circuitbreaker"
	"github.com/djlord-it/easy-watcher/internal/domain"
)

func TestHTTPWebhookSender_RequestHeaders(t *testing.T) {
	var gotHeaders http.Header
	var gotMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPWebhookSender()
	result := sender.Send(context.Background(), WebhookRequest{
		URL:       server.URL,
		Body:      []byte(`{}`),
		Secret:    "my-secret",
		Timeout:   5 * time.Second,
		AttemptID: "attempt-123",
		WatchID:   "w1",
		RecordID:  "w1_rec",
		Headers:   map[string]string{"X-Team": "ops"},
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if id := gotHeaders.Get(HeaderAttemptID); id != "attempt-123" {
		t.Errorf("%s = %q, want attempt-123", HeaderAttemptID, id)
	}
	if id := gotHeaders.Get(HeaderWatchID); id != "w1" {
		t.Errorf("%s = %q, want w1", HeaderWatchID, id)
	}
	if id := gotHeaders.Get(HeaderRecordID); id != "w1_rec" {
		t.Errorf("%s = %q, want w1_rec", HeaderRecordID, id)
	}
	if v := gotHeaders.Get("X-Team"); v != "ops" {
		t.Errorf("X-Team = %q, want ops", v)
	}
	if sig := gotHeaders.Get(HeaderSignature); sig == "" {
		t.Errorf("%s should not be empty", HeaderSignature)
	}
}

func TestHTTPWebhookSender_NoSecretNoSignature(t *testing.T) {
	var gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{URL: server.URL, Method: "put"})
	if !result.IsSuccess() {
		t.Fatalf("expected success, got %+v", result)
	}
	if gotSig != "" {
		t.Errorf("signature should be omitted without a secret, got %q", gotSig)
	}
}

func TestHTTPWebhookSender_SignatureCorrect(t *testing.T) {
	var gotSignature string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret := "my-webhook-secret"
	NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{
		URL:    server.URL,
		Body:   []byte(`{"watch_id":"w1"}`),
		Secret: secret,
	})

	if !VerifySignature(secret, gotBody, gotSignature) {
		t.Errorf("signature %q does not verify for body %s", gotSignature, gotBody)
	}
}

func TestHTTPWebhookSender_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 10<<10)))
	}))
	defer server.Close()

	result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{URL: server.URL, Timeout: 5 * time.Second})

	if result.Error != nil {
		t.Errorf("server error should not set Error field, got: %v", result.Error)
	}
	if result.StatusCode != 500 {
		t.Errorf("expected status 500, got %d", result.StatusCode)
	}
	if result.IsSuccess() {
		t.Error("500 should not be a success")
	}
	if len(result.Body) != maxWebhookResponse {
		t.Errorf("body should be truncated to %d bytes, got %d", maxWebhookResponse, len(result.Body))
	}
}

func TestHTTPWebhookSender_ConnectionError(t *testing.T) {
	result := NewHTTPWebhookSender().Send(context.Background(), WebhookRequest{
		URL:     "http://localhost:1",
		Timeout: 1 * time.Second,
	})
	if result.Error == nil {
		t.Error("expected connection error, got nil")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"watch_id":"w1"}`)
	sig := ComputeSignature("test-secret", body)

	if !VerifySignature("test-secret", body, sig) {
		t.Error("VerifySignature should return true for valid signature")
	}
	if VerifySignature("wrong-secret", body, sig) {
		t.Error("VerifySignature should return false for wrong secret")
	}
	if VerifySignature("test-secret", []byte(`{"watch_id":"w2"}`), sig) {
		t.Error("VerifySignature should return false for tampered body")
	}
	if _, err := hex.DecodeString(sig); err != nil || len(sig) != 64 {
		t.Errorf("signature should be 64 hex chars, got %q", sig)
	}
}

type fakeSender struct {
	calls atomic.Int32
	last  WebhookRequest
	resp  WebhookResponse
}

func (s *fakeSender) Send(_ context.Context, req WebhookRequest) WebhookResponse {
	s.calls.Add(1)
	s.last = req
	return s.resp
}

type webhookMetrics struct {
	classes []string
}

func (m *webhookMetrics) WebhookCompleted(statusClass string, _ time.Duration) {
	m.classes = append(m.classes, statusClass)
}

func webhookSpec(url string) domain.ActionSpec {
	return domain.ActionSpec{
		ID:      "notify",
		Type:    domain.ActionTypeWebhook,
		Webhook: &domain.WebhookAction{URL: url, Secret: "s3cret"},
	}
}

func TestWebhookExecutor_DefaultBody(t *testing.T) {
	sender := &fakeSender{resp: WebhookResponse{StatusCode: 200, Body: "ok"}}
	metrics := &webhookMetrics{}
	exec := NewWebhookExecutor(sender).WithMetrics(metrics)

	ectx := testExecutionContext()
	res := exec.Execute(context.Background(), ectx, webhookSpec("http://hooks.local/{{ctx.watch_id}}"))

	if res.Status != domain.ActionStatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if res.Webhook.URL != "http://hooks.local/w1" {
		t.Errorf("url = %q", res.Webhook.URL)
	}
	if res.Webhook.Method != http.MethodPost || res.Webhook.StatusCode != 200 || res.Webhook.Body != "ok" {
		t.Errorf("webhook result = %+v", res.Webhook)
	}
	if res.Webhook.AttemptID == "" || sender.last.AttemptID != res.Webhook.AttemptID {
		t.Errorf("attempt id not propagated: %q vs %q", res.Webhook.AttemptID, sender.last.AttemptID)
	}
	if sender.last.RecordID != ectx.Record.ID {
		t.Errorf("record id = %q", sender.last.RecordID)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(sender.last.Body, &payload); err != nil {
		t.Fatalf("body is not a payload: %v", err)
	}
	if payload.WatchID != "w1" || payload.Payload["host"] != "db-1" {
		t.Errorf("payload = %+v", payload)
	}
	if len(metrics.classes) != 1 || metrics.classes[0] != "2xx" {
		t.Errorf("metrics = %v", metrics.classes)
	}
}

func TestWebhookExecutor_TemplatedBody(t *testing.T) {
	sender := &fakeSender{resp: WebhookResponse{StatusCode: 202}}
	spec := webhookSpec("http://hooks.local")
	spec.Webhook.Body = `{"text":"{{ctx.payload.host}} is down"}`

	res := NewWebhookExecutor(sender).Execute(context.Background(), testExecutionContext(), spec)
	if !res.Succeeded() {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if string(sender.last.Body) != `{"text":"db-1 is down"}` {
		t.Errorf("body = %s", sender.last.Body)
	}
}

func TestWebhookExecutor_Failures(t *testing.T) {
	tests := []struct {
		name   string
		resp   WebhookResponse
		reason string
	}{
		{"server error", WebhookResponse{StatusCode: 503}, "status Service Unavailable"},
		{"transport error", WebhookResponse{Error: errors.New("dial tcp: connection refused")}, "dial tcp: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{resp: tt.resp}
			res := NewWebhookExecutor(sender).Execute(context.Background(), testExecutionContext(), webhookSpec("http://hooks.local"))
			if res.Status != domain.ActionStatusFailure {
				t.Fatalf("status = %s", res.Status)
			}
			if res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
			if res.Webhook == nil {
				t.Error("failed webhook should still record the request")
			}
		})
	}
}

func TestWebhookExecutor_CircuitBreaker(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	breaker := circuitbreaker.New(2, time.Minute).WithClock(clk)
	sender := &fakeSender{resp: WebhookResponse{StatusCode: 500}}
	exec := NewWebhookExecutor(sender).WithCircuitBreaker(breaker)
	spec := webhookSpec("http://hooks.local")

	for i := 0; i < 2; i++ {
		exec.Execute(context.Background(), testExecutionContext(), spec)
	}
	if sender.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", sender.calls.Load())
	}

	res := exec.Execute(context.Background(), testExecutionContext(), spec)
	if res.Status != domain.ActionStatusFailure || !strings.Contains(res.Reason, "circuit") {
		t.Errorf("open breaker should fail fast, got %s (%s)", res.Status, res.Reason)
	}
	if sender.calls.Load() != 2 {
		t.Errorf("open breaker should not send, calls = %d", sender.calls.Load())
	}

	clk.Step(time.Minute)
	sender.resp = WebhookResponse{StatusCode: 200}
	res = exec.Execute(context.Background(), testExecutionContext(), spec)
	if !res.Succeeded() {
		t.Errorf("half-open probe should go through, got %s (%s)", res.Status, res.Reason)
	}
	if breaker.State("http://hooks.local") != circuitbreaker.StateClosed {
		t.Errorf("breaker state = %s", breaker.State("http://hooks.local"))
	}
}

func TestWebhookExecutor_EmptyURL(t *testing.T) {
	sender := &fakeSender{}
	res := NewWebhookExecutor(sender).Execute(context.Background(), testExecutionContext(), webhookSpec("{{ctx.payload.missing}}"))
	if res.Status != domain.ActionStatusFailure {
		t.Errorf("status = %s", res.Status)
	}
	if sender.calls.Load() != 0 {
		t.Error("nothing should be sent")
	}
}
