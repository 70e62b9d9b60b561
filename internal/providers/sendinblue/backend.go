package sendinblue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	"github.com/example/sendinblue-relay/internal/models"
	emailprovider "github.com/example/sendinblue-relay/internal/providers/email"
	"github.com/example/sendinblue-relay/internal/util"
)

const (
	// ESPName identifies the provider in errors and feature signals.
	ESPName = "Sendinblue"

	// DefaultAPIURL is the v3 API root.
	DefaultAPIURL = "https://api.sendinblue.com/v3/"

	invalidResponseFormat = "Invalid Sendinblue API response format"
)

// Config holds the backend settings.
type Config struct {
	APIKey   string
	APIURL   string
	Defaults models.SendDefaults
}

// Option customizes a Backend.
type Option func(*Backend)

// WithSinkFactory sets how the feature sink of each payload is obtained.
func WithSinkFactory(newSink func() common.FeatureSink) Option {
	return func(b *Backend) {
		if newSink != nil {
			b.newSink = newSink
		}
	}
}

// WithFeatureSink shares sink between all payloads.
func WithFeatureSink(sink common.FeatureSink) Option {
	return func(b *Backend) {
		if sink != nil {
			b.newSink = func() common.FeatureSink { return sink }
		}
	}
}

// Backend sends messages through the Sendinblue v3 transactional API.
type Backend struct {
	apiKey    string
	apiURL    string
	defaults  models.SendDefaults
	transport emailprovider.Transport
	logger    zerolog.Logger
	newSink   func() common.FeatureSink
}

// Result is the outcome of a successful Send.
type Result struct {
	Status   *models.SendStatus
	Response *emailprovider.RawResponse
	Payload  *Payload
}

// NewBackend validates cfg and returns a Backend. Unsupported features are
// rejected unless a sink option says otherwise.
func NewBackend(cfg Config, transport emailprovider.Transport, logger zerolog.Logger, opts ...Option) (*Backend, error) {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	if transport == nil {
		return nil, errors.New("sendinblue: transport is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("sendinblue: api key is required")
	}
	apiURL, err := NormalizeAPIURL(cfg.APIURL)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		apiKey:    apiKey,
		apiURL:    apiURL,
		defaults:  cfg.Defaults,
		transport: transport,
		logger:    logger.With().Str("esp", ESPName).Logger(),
		newSink:   func() common.FeatureSink { return common.StrictSink{} },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// NormalizeAPIURL applies the default and enforces a trailing slash.
func NormalizeAPIURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultAPIURL, nil
	}
	u, err := util.ValidateHTTPURL(raw)
	if err != nil {
		return "", fmt.Errorf("sendinblue: api url: %w", err)
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u, nil
}

// APIURL returns the normalized base URL.
func (b *Backend) APIURL() string {
	return b.apiURL
}

// Build merges the defaults into msg and fills a fresh payload from it.
func (b *Backend) Build(msg *models.Message) (*Payload, error) {
	if msg == nil {
		return nil, errors.New("sendinblue: message is required")
	}
	m := b.defaults.Apply(msg)
	p := NewPayload(b.newSink())

	if m.From.AddrSpec != "" {
		p.SetFromEmail(m.From)
	}
	p.SetRecipients(RecipientTo, m.To)
	p.SetRecipients(RecipientCC, m.CC)
	p.SetRecipients(RecipientBCC, m.BCC)
	p.SetReplyTo(m.ReplyTo)
	if len(m.Headers) > 0 {
		p.SetExtraHeaders(m.Headers)
	}
	p.SetSubject(m.Subject)
	p.SetTextBody(m.TextBody)
	p.SetHTMLBody(m.HTMLBody)
	for _, att := range m.Attachments {
		p.AddAttachment(att)
	}
	p.SetTags(m.Tags)
	if m.TemplateID != "" {
		p.SetTemplateID(m.TemplateID)
	}
	if len(m.MergeData) > 0 {
		p.SetMergeData(m.MergeData)
	}
	if m.MergeGlobalData != nil {
		p.SetMergeGlobalData(m.MergeGlobalData)
	}
	if len(m.ESPExtra) > 0 {
		p.SetESPExtra(m.ESPExtra)
	}

	if err := p.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// Request serializes p into a transport request.
func (b *Backend) Request(p *Payload) (*emailprovider.Request, error) {
	body, err := p.Serialize()
	if err != nil {
		return nil, err
	}
	return &emailprovider.Request{
		Method: http.MethodPost,
		URL:    b.apiURL + p.Endpoint(),
		Headers: map[string]string{
			"api-key":      b.apiKey,
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: body,
	}, nil
}

// Send builds, posts and interprets one message. It makes a single attempt.
func (b *Backend) Send(ctx context.Context, msg *models.Message) (*Result, error) {
	p, err := b.Build(msg)
	if err != nil {
		return nil, err
	}
	req, err := b.Request(p)
	if err != nil {
		return nil, err
	}

	resp, err := b.transport.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sendinblue: %s: %w", p.Endpoint(), err)
	}

	if err := b.RaiseForStatus(resp, p, msg); err != nil {
		return nil, err
	}
	status, err := b.ParseRecipientStatus(resp, p, msg)
	if err != nil {
		return nil, err
	}

	b.logger.Debug().
		Str("endpoint", p.Endpoint()).
		Int("status", resp.StatusCode).
		Int("recipients", len(status.Recipients)).
		Msg("message accepted")

	return &Result{Status: status, Response: resp, Payload: p}, nil
}

// RaiseForStatus fails on any status outside [200, 300).
func (b *Backend) RaiseForStatus(resp *emailprovider.RawResponse, p *Payload, msg *models.Message) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return b.apiError("", resp, p, msg)
	}
	return nil
}

// ParseRecipientStatus reads the message id from a success response and
// reports every recipient as queued under it. All recipients share one
// status value.
func (b *Backend) ParseRecipientStatus(resp *emailprovider.RawResponse, p *Payload, msg *models.Message) (*models.SendStatus, error) {
	var messageID *string

	if len(resp.Body) > 0 {
		dec := json.NewDecoder(bytes.NewReader(resp.Body))
		dec.UseNumber()
		var parsed any
		if err := dec.Decode(&parsed); err != nil {
			return nil, b.apiError(invalidResponseFormat, resp, p, msg)
		}
		// The body must hold exactly one JSON value.
		if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
			return nil, b.apiError(invalidResponseFormat, resp, p, msg)
		}
		obj, ok := parsed.(map[string]any)
		if !ok {
			return nil, b.apiError(invalidResponseFormat, resp, p, msg)
		}
		raw, ok := obj["messageId"]
		if !ok {
			return nil, b.apiError(invalidResponseFormat, resp, p, msg)
		}
		switch v := raw.(type) {
		case nil:
		case string:
			messageID = &v
		default:
			s := fmt.Sprint(v)
			messageID = &s
		}
	}

	status := &models.RecipientStatus{MessageID: messageID, Status: models.DeliveryQueued}
	out := &models.SendStatus{Recipients: make(map[string]*models.RecipientStatus, len(p.allRecipients))}
	for _, r := range p.allRecipients {
		out.Recipients[r.AddrSpec] = status
	}
	return out, nil
}

func (b *Backend) apiError(desc string, resp *emailprovider.RawResponse, p *Payload, msg *models.Message) *emailprovider.APIError {
	return &emailprovider.APIError{
		ESP:         ESPName,
		Description: desc,
		Message:     msg,
		Payload:     p.Body(),
		Response:    resp,
	}
}
