package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// maxResponseSize bounds gateway response bodies.
const maxResponseSize = 1 << 20

// NewHTTPClient returns a traced HTTP client for gateway calls. Per-call
// deadlines come from the request context.
func NewHTTPClient(timeout time.Duration, tp trace.TracerProvider, mp metric.MeterProvider) *http.Client {
	var opts []otelhttp.Option
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}
	if mp != nil {
		opts = append(opts, otelhttp.WithMeterProvider(mp))
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
	}
}

// Request is an outgoing gateway call.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Response is a read gateway response.
type Response struct {
	Status int
	Body   []byte
}

// Do performs req. Transport failures and 5xx responses are reported as
// payment.ErrGatewayUnavailable; other statuses are returned to the caller.
func Do(ctx context.Context, client *http.Client, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	for k, v := range req.Header {
		hreq.Header[k] = v
	}
	if req.Body != nil && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", "application/json")
	}
	hreq.Header.Set("Accept", "application/json")

	resp, err := client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", req.Method, hreq.URL.Path, payment.ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", payment.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%s %s: status %d: %w", req.Method, hreq.URL.Path, resp.StatusCode, payment.ErrGatewayUnavailable)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}
