package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scenario enumerates the supported mock behaviours. The default scenario is
// success unless overridden via headers or options.
type Scenario string

const (
	ScenarioSuccess      Scenario = "success"
	ScenarioEmpty        Scenario = "empty"
	ScenarioMalformed    Scenario = "malformed"
	ScenarioRejected     Scenario = "rejected"
	ScenarioUnauthorized Scenario = "unauthorized"
	ScenarioUnavailable  Scenario = "unavailable"
	ScenarioTimeout      Scenario = "timeout"

	// HeaderScenario selects the scenario. It is looked up in the transport
	// headers first, then in the "headers" object of the JSON body, so a
	// message can steer the mock through its own extra headers.
	HeaderScenario = "X-Mock-Provider-Scenario"
	HeaderLatency  = "X-Mock-Provider-Latency"

	mockMessageIDDomain = "smtp-relay.mailin.fr"
)

// MockOption customizes the behaviour of the mock transport at construction time.
type MockOption func(*MockTransport)

// WithLatencyRange overrides the default latency range used by the mock
// transport when simulating work. Negative values are clamped to zero and if
// max < min it is coerced to min to keep behaviour deterministic.
func WithLatencyRange(min, max time.Duration) MockOption {
	return func(t *MockTransport) {
		if min < 0 {
			min = 0
		}
		if max < 0 {
			max = 0
		}
		if max < min {
			max = min
		}
		t.minLatency = min
		t.maxLatency = max
	}
}

// WithDefaultScenario configures the behaviour used when a request does not
// name a scenario.
func WithDefaultScenario(s Scenario) MockOption {
	return func(t *MockTransport) {
		t.defaultScenario = s
	}
}

// WithRandomSeed swaps the RNG seed used when sampling latency.
func WithRandomSeed(seed int64) MockOption {
	return func(t *MockTransport) {
		t.rnd = rand.New(rand.NewSource(seed)) // #nosec G404 -- deterministic seed for tests.
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) MockOption {
	return func(t *MockTransport) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIDGenerator overrides how message ids are minted on success.
func WithIDGenerator(next func() string) MockOption {
	return func(t *MockTransport) {
		if next != nil {
			t.nextID = next
		}
	}
}

// MockTransport answers ESP requests locally with canned Sendinblue-shaped
// responses, for development and automated testing.
type MockTransport struct {
	logger          zerolog.Logger
	minLatency      time.Duration
	maxLatency      time.Duration
	defaultScenario Scenario
	now             func() time.Time
	nextID          func() string

	mu    sync.Mutex
	rnd   *rand.Rand
	calls []Request
}

// NewMockTransport constructs a mock transport. By default it answers with a
// success after 25ms to 75ms.
func NewMockTransport(logger zerolog.Logger, opts ...MockOption) *MockTransport {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	t := &MockTransport{
		logger:          logger,
		minLatency:      25 * time.Millisecond,
		maxLatency:      75 * time.Millisecond,
		defaultScenario: ScenarioSuccess,
		now:             time.Now,
		nextID: func() string {
			return fmt.Sprintf("<%s@%s>", uuid.NewString(), mockMessageIDDomain)
		},
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t
}

// Do simulates the ESP call for req.
func (t *MockTransport) Do(ctx context.Context, req *Request) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("mock transport: request is required")
	}

	bodyHeaders := bodyHeaders(req.Body)

	t.mu.Lock()
	t.calls = append(t.calls, *req)
	t.mu.Unlock()

	if latency := t.sampleLatency(req.Headers, bodyHeaders); latency > 0 {
		if err := sleep(ctx, latency); err != nil {
			return nil, err
		}
	}

	scenario := t.resolveScenario(req.Headers, bodyHeaders)
	t.logger.Debug().
		Str("transport", "mock").
		Str("scenario", string(scenario)).
		Str("url", req.URL).
		Msg("mock esp transport invoked")

	switch scenario {
	case ScenarioEmpty:
		return t.response(http.StatusCreated, nil), nil
	case ScenarioMalformed:
		return t.response(http.StatusOK, []byte(`{}`)), nil
	case ScenarioRejected:
		return t.response(http.StatusBadRequest,
			[]byte(`{"code":"invalid_parameter","message":"mock: email is not valid in to"}`)), nil
	case ScenarioUnauthorized:
		return t.response(http.StatusUnauthorized,
			[]byte(`{"code":"unauthorized","message":"Key not found"}`)), nil
	case ScenarioUnavailable:
		return t.response(http.StatusServiceUnavailable,
			[]byte(`{"code":"service_unavailable","message":"mock: try again later"}`)), nil
	case ScenarioTimeout:
		if err := sleep(ctx, t.maxLatency+t.minLatency); err != nil {
			return nil, err
		}
		return nil, context.DeadlineExceeded
	default:
		body, err := json.Marshal(map[string]string{"messageId": t.nextID()})
		if err != nil {
			return nil, fmt.Errorf("mock transport: encode response: %w", err)
		}
		return t.response(http.StatusCreated, body), nil
	}
}

// Calls returns a copy of every request the transport has received.
func (t *MockTransport) Calls() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Request, len(t.calls))
	copy(out, t.calls)
	return out
}

func (t *MockTransport) response(code int, body []byte) *RawResponse {
	header := http.Header{}
	if len(body) > 0 {
		header.Set("Content-Type", "application/json")
	}
	return &RawResponse{
		StatusCode: code,
		Header:     header,
		Body:       body,
		Timestamp:  t.now(),
	}
}

func (t *MockTransport) resolveScenario(sources ...map[string]string) Scenario {
	value, ok := pickHeader(HeaderScenario, sources...)
	if !ok || value == "" {
		return t.defaultScenario
	}

	switch s := Scenario(strings.ToLower(strings.TrimSpace(value))); s {
	case ScenarioEmpty, ScenarioMalformed, ScenarioRejected,
		ScenarioUnauthorized, ScenarioUnavailable, ScenarioTimeout:
		return s
	default:
		return ScenarioSuccess
	}
}

func (t *MockTransport) sampleLatency(sources ...map[string]string) time.Duration {
	if value, ok := pickHeader(HeaderLatency, sources...); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d >= 0 {
			return d
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	min := t.minLatency
	max := t.maxLatency
	if max <= min {
		return min
	}

	delta := max - min
	return min + time.Duration(t.rnd.Int63n(int64(delta)+1))
}

// bodyHeaders extracts the "headers" object of a JSON request body. Anything
// unexpected yields nil.
func bodyHeaders(body []byte) map[string]string {
	if len(body) == 0 {
		return nil
	}
	var envelope struct {
		Headers map[string]string `json:"headers"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return envelope.Headers
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pickHeader(key string, sources ...map[string]string) (string, bool) {
	for _, headers := range sources {
		for k, v := range headers {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
	}
	return "", false
}
