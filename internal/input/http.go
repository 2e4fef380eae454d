package input

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-watcher/internal/domain"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
)

// HTTP fetches a JSON document. A JSON object becomes the payload as is; any
// other JSON value is stored under "_value". The response status is always
// available as "_status_code".
type HTTP struct {
	client *http.Client
}

// NewHTTP uses client, or a default client when nil. Per-input timeouts are
// applied through the request context.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{client: client}
}

func (h *HTTP) Type() domain.InputType { return domain.InputTypeHTTP }

func (h *HTTP) Fetch(ctx context.Context, spec domain.InputSpec) (map[string]any, error) {
	in := spec.HTTP
	if in == nil || in.URL == "" {
		return nil, errors.New("http input: url is required")
	}

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if in.Body != "" {
		body = strings.NewReader(in.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, in.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, "http input: create request")
	}
	req.Header.Set("Accept", "application/json")
	if in.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "http input: %s %s", method, in.URL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "http input: read body")
	}
	if resp.StatusCode >= 400 {
		return nil, errors.Newf("http input: %s %s returned %d", method, in.URL, resp.StatusCode)
	}

	payload := map[string]any{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, errors.Wrap(err, "http input: decode json")
		}
		if obj, ok := decoded.(map[string]any); ok {
			payload = obj
		} else {
			payload["_value"] = decoded
		}
	}
	payload["_status_code"] = resp.StatusCode
	return payload, nil
}
