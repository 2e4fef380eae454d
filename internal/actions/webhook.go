package actions

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/djlord-it/easy-watcher/internal/circuitbreaker"
	"github.com/djlord-it/easy-watcher/internal/domain"
	"github.com/djlord-it/easy-watcher/internal/metrics"
	"github.com/djlord-it/easy-watcher/internal/template"
)

// Webhook request headers.
const (
	HeaderAttemptID = "X-Watcher-Attempt-ID"
	HeaderWatchID   = "X-Watcher-Watch-ID"
	HeaderRecordID  = "X-Watcher-Record-ID"
	HeaderSignature = "X-Watcher-Signature"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	maxWebhookResponse    = 4 << 10
)

type WebhookRequest struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      []byte
	Secret    string
	Timeout   time.Duration
	AttemptID string
	WatchID   string
	RecordID  string
}

type WebhookResponse struct {
	StatusCode int
	Body       string
	Error      error
	Duration   time.Duration
}

func (r WebhookResponse) IsSuccess() bool {
	return r.Error == nil && r.StatusCode < 400
}

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResponse
}

// WebhookMetricsSink defines the webhook metrics. All methods must be
// non-blocking.
type WebhookMetricsSink interface {
	WebhookCompleted(statusClass string, duration time.Duration)
}

type HTTPWebhookSender struct {
	client *http.Client
}

func NewHTTPWebhookSender() *HTTPWebhookSender {
	return &HTTPWebhookSender{client: &http.Client{}}
}

// Send issues the request with an HMAC-SHA256 signature of the body.
func (s *HTTPWebhookSender) Send(ctx context.Context, req WebhookRequest) WebhookResponse {
	start := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return WebhookResponse{Error: errors.Wrap(err, "create request"), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set(HeaderAttemptID, req.AttemptID)
	httpReq.Header.Set(HeaderWatchID, req.WatchID)
	httpReq.Header.Set(HeaderRecordID, req.RecordID)
	if req.Secret != "" {
		httpReq.Header.Set(HeaderSignature, ComputeSignature(req.Secret, req.Body))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return WebhookResponse{Error: errors.Wrap(err, "send"), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	return WebhookResponse{StatusCode: resp.StatusCode, Body: string(body), Duration: time.Since(start)}
}

func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to check incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(ComputeSignature(secret, body)), []byte(signature))
}

// WebhookPayload is sent when the action declares no body.
type WebhookPayload struct {
	WatchID       string         `json:"watch_id"`
	RecordID      string         `json:"record_id"`
	ScheduledTime string         `json:"scheduled_time"`
	TriggeredTime string         `json:"triggered_time"`
	Payload       map[string]any `json:"payload"`
}

// WebhookExecutor calls one webhook per action, guarded by a per-URL
// circuit breaker. There is no retry inside an execution.
type WebhookExecutor struct {
	sender  WebhookSender
	breaker *circuitbreaker.Breaker // optional, nil = disabled
	metrics WebhookMetricsSink      // optional, nil = disabled
}

func NewWebhookExecutor(sender WebhookSender) *WebhookExecutor {
	return &WebhookExecutor{sender: sender}
}

func (e *WebhookExecutor) WithCircuitBreaker(b *circuitbreaker.Breaker) *WebhookExecutor {
	e.breaker = b
	return e
}

func (e *WebhookExecutor) WithMetrics(sink WebhookMetricsSink) *WebhookExecutor {
	e.metrics = sink
	return e
}

func (e *WebhookExecutor) Type() domain.ActionType { return domain.ActionTypeWebhook }

func (e *WebhookExecutor) Execute(ctx context.Context, ectx *domain.ExecutionContext, spec domain.ActionSpec) domain.ActionResult {
	wh := spec.Webhook
	if wh == nil {
		return domain.Failure(spec, "webhook action has no request")
	}

	model := template.Model(ectx)
	url, err := template.Render(wh.URL, model)
	if err != nil {
		return domain.Failure(spec, errors.Wrap(err, "render url").Error())
	}
	if url == "" {
		return domain.Failure(spec, "webhook url is empty")
	}

	body, err := e.body(ectx, wh, model)
	if err != nil {
		return domain.Failure(spec, err.Error())
	}

	method := strings.ToUpper(wh.Method)
	if method == "" {
		method = http.MethodPost
	}
	res := domain.ActionResult{
		ID:   spec.ID,
		Type: spec.Type,
		Webhook: &domain.WebhookResult{
			Method:    method,
			URL:       url,
			AttemptID: uuid.New().String(),
		},
	}

	if e.breaker != nil {
		if err := e.breaker.Allow(url); err != nil {
			res.Status = domain.ActionStatusFailure
			res.Reason = err.Error()
			return res
		}
	}

	recordID := ""
	if ectx.Record != nil {
		recordID = ectx.Record.ID
	}
	resp := e.sender.Send(ctx, WebhookRequest{
		Method:    method,
		URL:       url,
		Headers:   wh.Headers,
		Body:      body,
		Secret:    wh.Secret,
		Timeout:   wh.Timeout,
		AttemptID: res.Webhook.AttemptID,
		WatchID:   ectx.WatchID,
		RecordID:  recordID,
	})
	res.Webhook.StatusCode = resp.StatusCode
	res.Webhook.Body = resp.Body

	if e.metrics != nil {
		e.metrics.WebhookCompleted(metrics.ClassifyStatus(resp.StatusCode, resp.Error), resp.Duration)
	}

	if resp.IsSuccess() {
		if e.breaker != nil {
			e.breaker.RecordSuccess(url)
		}
		res.Status = domain.ActionStatusSuccess
		return res
	}

	if e.breaker != nil {
		e.breaker.RecordFailure(url)
	}
	res.Status = domain.ActionStatusFailure
	if resp.Error != nil {
		res.Reason = resp.Error.Error()
	} else {
		res.Reason = http.StatusText(resp.StatusCode)
		if res.Reason == "" {
			res.Reason = "unexpected status"
		}
		res.Reason = "status " + res.Reason
	}
	return res
}

func (e *WebhookExecutor) body(ectx *domain.ExecutionContext, wh *domain.WebhookAction, model map[string]any) ([]byte, error) {
	if wh.Body != "" {
		rendered, err := template.Render(wh.Body, model)
		if err != nil {
			return nil, errors.Wrap(err, "render body")
		}
		return []byte(rendered), nil
	}

	p := WebhookPayload{
		WatchID:       ectx.WatchID,
		ScheduledTime: ectx.Event.ScheduledTime.UTC().Format(time.RFC3339Nano),
		TriggeredTime: ectx.Event.TriggeredTime.UTC().Format(time.RFC3339Nano),
		Payload:       ectx.Payload,
	}
	if ectx.Record != nil {
		p.RecordID = ectx.Record.ID
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return raw, nil
}
