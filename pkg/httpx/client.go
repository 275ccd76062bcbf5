package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"poolmatch/pkg/apperr"
	"poolmatch/pkg/telemetry"
)

var upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "poolmatch",
	Subsystem: "upstream",
	Name:      "request_duration_seconds",
	Help:      "Latency of calls to sibling services.",
	Buckets:   prometheus.DefBuckets,
}, []string{"upstream", "method", "result"})

// Client calls a sibling service's JSON API and turns failures into typed errors.
type Client struct {
	Name    string
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a Client with a bounded per-request timeout and traced
// transport. name labels the client's latency metrics.
func NewClient(name, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		Name:    name,
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: telemetry.Transport(nil),
		},
	}
}

// Do sends body as JSON and decodes a 2xx response into out when out is non-nil.
// Transport errors and 5xx responses become KindUpstreamUnavailable; 4xx
// responses keep the remote kind and code.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		upstreamLatency.WithLabelValues(c.Name, method, resultLabel(err)).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperr.Internal(err, "marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return apperr.Internal(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return apperr.Upstream(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return statusError(resp.StatusCode, data)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Upstream(err, "decode %s %s response", method, path)
	}
	return nil
}

func statusError(status int, data []byte) error {
	var body ErrorBody
	_ = json.Unmarshal(data, &body)
	if body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	if status >= http.StatusInternalServerError {
		return apperr.Upstream(errors.New(body.Error), "upstream returned %d", status)
	}
	msg := body.Error
	if msg == "" {
		msg = fmt.Sprintf("upstream returned %d", status)
	}
	return apperr.FromStatus(status, body.Code, msg)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}
