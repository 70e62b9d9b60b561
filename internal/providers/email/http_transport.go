package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/rs/zerolog"
)

const defaultHTTPTimeout = 30 * time.Second

// maxResponseBytes bounds how much of an ESP response is read into memory.
const maxResponseBytes = 1 << 20

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOption configures the behaviour of the HTTP transport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient swaps the client used to perform requests.
func WithHTTPClient(client HTTPDoer) HTTPOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithHTTPTimeout sets the timeout of the default client. It has no effect
// when a custom client is supplied.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if c, ok := t.client.(*http.Client); ok && d > 0 {
			c.Timeout = d
		}
	}
}

// WithHTTPClock replaces the clock used for response timestamps.
func WithHTTPClock(now func() time.Time) HTTPOption {
	return func(t *HTTPTransport) {
		if now != nil {
			t.now = now
		}
	}
}

// HTTPTransport sends ESP requests over HTTP. Non-2xx responses are returned
// as-is; interpreting them is the backend's job.
type HTTPTransport struct {
	logger zerolog.Logger
	client HTTPDoer
	now    func() time.Time
}

// NewHTTPTransport constructs an HTTPTransport.
func NewHTTPTransport(logger zerolog.Logger, opts ...HTTPOption) *HTTPTransport {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	t := &HTTPTransport{
		logger: logger,
		client: &http.Client{Timeout: defaultHTTPTimeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Do performs req and reads the whole response body.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("http transport: request is required")
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("http transport: create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := t.now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http transport: %s %s: %w", method, httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("http transport: read response: %w", err)
	}

	t.logger.Debug().
		Str("method", method).
		Str("path", httpReq.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", t.now().Sub(start)).
		Msg("esp request completed")

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Timestamp:  t.now(),
	}, nil
}
