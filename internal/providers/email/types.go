package email

import (
	"context"
	"net/http"
	"time"
)

// Request is a fully materialized ESP API call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// RawResponse is the unparsed ESP reply. Backends inspect it to derive
// recipient statuses.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Timestamp  time.Time
}

// Transport performs ESP API calls. Implementations do not retry.
type Transport interface {
	Do(ctx context.Context, req *Request) (*RawResponse, error)
}
