package sendinblue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	"github.com/example/sendinblue-relay/internal/models"
	emailprovider "github.com/example/sendinblue-relay/internal/providers/email"
)

type transportFunc func(ctx context.Context, req *emailprovider.Request) (*emailprovider.RawResponse, error)

func (f transportFunc) Do(ctx context.Context, req *emailprovider.Request) (*emailprovider.RawResponse, error) {
	return f(ctx, req)
}

func respond(code int, body string) (transportFunc, *[]*emailprovider.Request) {
	var calls []*emailprovider.Request
	return func(_ context.Context, req *emailprovider.Request) (*emailprovider.RawResponse, error) {
		calls = append(calls, req)
		return &emailprovider.RawResponse{StatusCode: code, Body: []byte(body)}, nil
	}, &calls
}

func newTestBackend(t *testing.T, transport emailprovider.Transport, opts ...Option) *Backend {
	t.Helper()
	b, err := NewBackend(Config{APIKey: "test-key"}, transport, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return b
}

func sampleMessage() *models.Message {
	return &models.Message{
		From:     named("Shop", "shop@example.com"),
		To:       []models.Address{addr("to1@example.com"), named("Two", "to2@example.com")},
		CC:       []models.Address{addr("cc@example.com")},
		BCC:      []models.Address{addr("bcc@example.com")},
		Subject:  "Your order",
		TextBody: "Thanks",
	}
}

func TestNewBackendValidation(t *testing.T) {
	transport, _ := respond(http.StatusCreated, "")

	_, err := NewBackend(Config{}, transport, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewBackend(Config{APIKey: "k"}, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewBackend(Config{APIKey: "k", APIURL: "ftp://example.com"}, transport, zerolog.Nop())
	assert.Error(t, err)
}

func TestNormalizeAPIURL(t *testing.T) {
	u, err := NormalizeAPIURL("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, u)

	u, err = NormalizeAPIURL("https://api.sendinblue.com/v3")
	require.NoError(t, err)
	assert.Equal(t, "https://api.sendinblue.com/v3/", u)

	u, err = NormalizeAPIURL("http://localhost:8080/v3/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v3/", u)
}

func TestBackendRequest(t *testing.T) {
	transport, calls := respond(http.StatusCreated, `{"messageId":"abc123"}`)
	b, err := NewBackend(Config{APIKey: "test-key", APIURL: "https://api.example.test/v3"}, transport, zerolog.Nop())
	require.NoError(t, err)

	_, err = b.Send(context.Background(), sampleMessage())
	require.NoError(t, err)
	require.Len(t, *calls, 1)

	req := (*calls)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://api.example.test/v3/smtp/email", req.URL)
	assert.Equal(t, "test-key", req.Headers["api-key"])
	assert.Equal(t, "application/json", req.Headers["Content-Type"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "Your order", body["subject"])
	assert.Equal(t, "Thanks", body["textContent"])
	assert.Equal(t, map[string]any{"email": "shop@example.com", "name": "Shop"}, body["sender"])
}

func TestBackendTemplateEndpoint(t *testing.T) {
	transport, calls := respond(http.StatusCreated, `{"messageId":"abc123"}`)
	b := newTestBackend(t, transport)

	msg := &models.Message{
		To:              []models.Address{addr("to@example.com")},
		TemplateID:      "12",
		MergeGlobalData: map[string]any{"name": "Ann"},
	}
	_, err := b.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL+"smtp/templates/12/send", (*calls)[0].URL)
}

func TestBackendTemplateWithSenderUnderStrictPolicy(t *testing.T) {
	transport, calls := respond(http.StatusCreated, `{"messageId":"abc123"}`)
	b, err := NewBackend(Config{
		APIKey:   "k",
		Defaults: models.SendDefaults{From: addr("noreply@example.com")},
	}, transport, zerolog.Nop())
	require.NoError(t, err)

	for _, from := range []models.Address{addr("from@example.com"), {}} {
		msg := &models.Message{
			From:       from,
			To:         []models.Address{addr("to@example.com")},
			TemplateID: "1",
		}
		res, err := b.Send(context.Background(), msg)
		require.NoError(t, err)
		require.Contains(t, res.Status.Recipients, "to@example.com")
	}
	require.Len(t, *calls, 2)

	var body map[string]any
	require.NoError(t, json.Unmarshal((*calls)[1].Body, &body))
	assert.Equal(t, map[string]any{"email": "noreply@example.com"}, body["sender"])
}

func TestBackendSuccessSharesStatus(t *testing.T) {
	transport, _ := respond(http.StatusOK, `{"messageId": "abc123"}`)
	b := newTestBackend(t, transport)

	res, err := b.Send(context.Background(), sampleMessage())
	require.NoError(t, err)

	recipients := res.Status.Recipients
	require.Len(t, recipients, 4)
	for _, spec := range []string{"to1@example.com", "to2@example.com", "cc@example.com", "bcc@example.com"} {
		st, ok := recipients[spec]
		require.True(t, ok, spec)
		require.NotNil(t, st.MessageID)
		assert.Equal(t, "abc123", *st.MessageID)
		assert.Equal(t, models.DeliveryQueued, st.Status)
		assert.Same(t, recipients["to1@example.com"], st)
	}

	id, ok := res.Status.MessageID()
	require.True(t, ok)
	assert.Equal(t, "abc123", *id)
}

func TestBackendEmptyBodyHasNoMessageID(t *testing.T) {
	transport, _ := respond(http.StatusOK, "")
	b := newTestBackend(t, transport)

	res, err := b.Send(context.Background(), sampleMessage())
	require.NoError(t, err)
	require.Len(t, res.Status.Recipients, 4)
	for _, st := range res.Status.Recipients {
		assert.Nil(t, st.MessageID)
		assert.Equal(t, models.DeliveryQueued, st.Status)
	}
}

func TestBackendMessageIDShapes(t *testing.T) {
	cases := []struct {
		body string
		want *string
	}{
		{`{"messageId": null}`, nil},
		{`{"messageId": 42}`, strPtr("42")},
		{`{"messageId": "<x@smtp-relay.mailin.fr>", "extra": true}`, strPtr("<x@smtp-relay.mailin.fr>")},
	}
	for _, tc := range cases {
		transport, _ := respond(http.StatusCreated, tc.body)
		res, err := newTestBackend(t, transport).Send(context.Background(), sampleMessage())
		require.NoError(t, err, tc.body)
		for _, st := range res.Status.Recipients {
			assert.Equal(t, tc.want, st.MessageID, tc.body)
		}
	}
}

func TestBackendErrorStatusAlwaysFails(t *testing.T) {
	for _, body := range []string{"", `{"messageId":"abc123"}`, `{"code":"missing_parameter","message":"sender is missing"}`} {
		transport, _ := respond(http.StatusBadRequest, body)
		res, err := newTestBackend(t, transport).Send(context.Background(), sampleMessage())
		assert.Nil(t, res)

		var apiErr *emailprovider.APIError
		require.ErrorAs(t, err, &apiErr, body)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode())
		assert.Equal(t, ESPName, apiErr.ESP)
		assert.NotEmpty(t, apiErr.Payload)
		assert.Equal(t, "Your order", apiErr.Message.Subject)
		assert.True(t, errors.Is(err, common.ErrPermanent))
	}
}

func TestBackendServerErrorIsTransient(t *testing.T) {
	transport, _ := respond(http.StatusServiceUnavailable, "")
	_, err := newTestBackend(t, transport).Send(context.Background(), sampleMessage())
	assert.True(t, errors.Is(err, common.ErrTransient))
}

func TestBackendMalformedSuccessBody(t *testing.T) {
	for _, body := range []string{`{}`, `[]`, `"abc123"`, `not json`, `{"messageIds":["a"]}`, `{"messageId":"a"} garbage`, `{"messageId":"a"}{}`} {
		transport, _ := respond(http.StatusOK, body)
		_, err := newTestBackend(t, transport).Send(context.Background(), sampleMessage())

		var apiErr *emailprovider.APIError
		require.ErrorAs(t, err, &apiErr, body)
		assert.Equal(t, "Invalid Sendinblue API response format", apiErr.Description, body)
		assert.True(t, errors.Is(err, common.ErrPermanent), body)
	}
}

func TestBackendTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	transport := transportFunc(func(context.Context, *emailprovider.Request) (*emailprovider.RawResponse, error) {
		return nil, boom
	})
	_, err := newTestBackend(t, transport).Send(context.Background(), sampleMessage())
	assert.ErrorIs(t, err, boom)
}

func TestBackendStrictPolicyAbortsBeforeSending(t *testing.T) {
	transport, calls := respond(http.StatusCreated, `{"messageId":"abc123"}`)
	b := newTestBackend(t, transport)

	msg := sampleMessage()
	msg.Tags = []string{"a", "b"}
	_, err := b.Send(context.Background(), msg)

	var featureErr *common.UnsupportedFeatureError
	require.ErrorAs(t, err, &featureErr)
	assert.Empty(t, *calls)
}

func TestBackendCollectPolicySends(t *testing.T) {
	transport, calls := respond(http.StatusCreated, `{"messageId":"abc123"}`)
	sink := &common.CollectSink{}
	b := newTestBackend(t, transport, WithFeatureSink(sink))

	msg := sampleMessage()
	msg.Tags = []string{"a", "b"}
	msg.ReplyTo = []models.Address{addr("r1@example.com"), addr("r2@example.com")}
	_, err := b.Send(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	assert.Len(t, sink.Features(), 2)
}

func TestBackendAppliesDefaults(t *testing.T) {
	transport, _ := respond(http.StatusCreated, "")
	b, err := NewBackend(Config{
		APIKey: "k",
		Defaults: models.SendDefaults{
			From:    addr("noreply@example.com"),
			Tags:    []string{"transactional"},
			Headers: map[string]string{"X-Env": "test"},
		},
	}, transport, zerolog.Nop())
	require.NoError(t, err)

	p, err := b.Build(&models.Message{To: []models.Address{addr("to@example.com")}})
	require.NoError(t, err)

	data := serialize(t, p)
	assert.Equal(t, map[string]any{"email": "noreply@example.com"}, data["sender"])
	assert.Equal(t, map[string]any{"X-Env": "test", "X-Mailin-tag": "transactional"}, data["headers"])
}

func TestBackendWithMockTransport(t *testing.T) {
	mock := emailprovider.NewMockTransport(zerolog.Nop(),
		emailprovider.WithLatencyRange(0, 0),
		emailprovider.WithIDGenerator(func() string { return "<fixed@smtp-relay.mailin.fr>" }),
	)
	b := newTestBackend(t, mock)

	res, err := b.Send(context.Background(), sampleMessage())
	require.NoError(t, err)
	id, ok := res.Status.MessageID()
	require.True(t, ok)
	assert.Equal(t, "<fixed@smtp-relay.mailin.fr>", *id)

	msg := sampleMessage()
	msg.Headers = map[string]string{emailprovider.HeaderScenario: "malformed"}
	_, err = b.Send(context.Background(), msg)
	var apiErr *emailprovider.APIError
	require.ErrorAs(t, err, &apiErr)
}

func strPtr(s string) *string {
	return &s
}
