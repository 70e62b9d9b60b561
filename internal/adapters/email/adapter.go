package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	"github.com/example/sendinblue-relay/internal/models"
	emailprovider "github.com/example/sendinblue-relay/internal/providers/email"
	"github.com/example/sendinblue-relay/internal/providers/sendinblue"
	"github.com/example/sendinblue-relay/internal/util"
)

// Sender is the ESP backend used by the adapter.
type Sender interface {
	Send(ctx context.Context, msg *models.Message) (*sendinblue.Result, error)
}

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithRawBodyLimit overrides the maximum number of characters retained from the
// provider raw response.
func WithRawBodyLimit(limit int) Option {
	return func(a *Adapter) {
		if limit > 0 {
			a.maxRawChars = limit
		}
	}
}

// Adapter implements common.Adapter for the email channel. It turns validated
// requests into messages, sends them through the ESP backend and classifies
// the outcome.
type Adapter struct {
	logger      zerolog.Logger
	sender      Sender
	maxRawChars int
}

// NewAdapter constructs an email adapter using the provided dependencies.
func NewAdapter(sender Sender, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if sender == nil {
		return nil, errors.New("email adapter: sender dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:      logger,
		sender:      sender,
		maxRawChars: common.DefaultRawBodyLimit,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a, nil
}

// Send converts the validated message and hands it to the ESP. Errors are
// wrapped with sentinel markers so the worker can tell transient failures
// from permanent ones.
func (a *Adapter) Send(ctx context.Context, msg *common.ValidatedMessage) (*models.ProviderResponse, error) {
	if msg == nil || msg.Request == nil {
		return nil, common.WrapPermanent(errors.New("email adapter: message request is nil"))
	}

	req, ok := msg.Request.(*models.EmailRequest)
	if !ok {
		return nil, common.WrapPermanent(fmt.Errorf("email adapter: expected *models.EmailRequest, got %T", msg.Request))
	}

	message, err := ToMessage(req, msg.KafkaHeaders)
	if err != nil {
		return nil, common.WrapPermanent(err)
	}

	result, err := a.sender.Send(ctx, message)
	if err != nil {
		resp := a.buildErrorResponse(err)
		a.logger.Info().
			Str("message_id", req.MessageID).
			Str("channel", models.ChannelEmail).
			Str("provider_status", resp.Status).
			Err(err).
			Msg("email adapter send failed")
		return resp, wrapError(err)
	}

	resp := a.buildSuccessResponse(result)
	a.logger.Debug().
		Str("message_id", req.MessageID).
		Str("channel", models.ChannelEmail).
		Str("provider_status", resp.Status).
		Str("provider_id", resp.Meta["provider_id"]).
		Int("recipients", len(resp.Recipients)).
		Msg("email adapter send succeeded")
	return resp, nil
}

// ToMessage converts a request into the provider independent message.
// Kafka headers starting with "X-" are forwarded as message headers; the
// request's own headers take precedence over them.
func ToMessage(req *models.EmailRequest, kafkaHeaders map[string][]byte) (*models.Message, error) {
	msg := &models.Message{
		Subject:         req.Subject,
		TextBody:        req.Body.Text,
		HTMLBody:        req.Body.HTML,
		TemplateID:      req.TemplateID,
		MergeData:       req.MergeData,
		MergeGlobalData: req.MergeGlobalData,
		ESPExtra:        req.ESPExtra,
	}
	if len(req.Tags) > 0 {
		msg.Tags = append([]string(nil), req.Tags...)
	}

	if strings.TrimSpace(req.From) != "" {
		from, err := util.ParseAddress(req.From)
		if err != nil {
			return nil, fmt.Errorf("email adapter: from: %w", err)
		}
		msg.From = from
	}

	lists := []struct {
		field string
		in    []string
		out   *[]models.Address
	}{
		{"to", req.To, &msg.To},
		{"cc", req.CC, &msg.CC},
		{"bcc", req.BCC, &msg.BCC},
		{"reply_to", req.ReplyTo, &msg.ReplyTo},
	}
	for _, l := range lists {
		addrs, err := util.ParseAddressList(l.in)
		if err != nil {
			return nil, fmt.Errorf("email adapter: %s: %w", l.field, err)
		}
		*l.out = addrs
	}

	for i, att := range req.Attachments {
		content, err := util.DecodeBase64(fmt.Sprintf("attachments[%d]", i), att.Content)
		if err != nil {
			return nil, fmt.Errorf("email adapter: %w", err)
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Name:     att.Name,
			Content:  content,
			MimeType: att.MimeType,
			Inline:   att.Inline,
		})
	}

	headers := make(map[string]string)
	for key, val := range kafkaHeaders {
		if len(key) > 2 && strings.EqualFold(key[:2], "x-") {
			headers[key] = string(val)
		}
	}
	if req.TraceID != "" {
		headers["X-Trace-ID"] = req.TraceID
	}
	if req.TenantID != "" {
		headers["X-Tenant-ID"] = req.TenantID
	}
	for key, val := range req.Headers {
		headers[key] = val
	}
	if len(headers) > 0 {
		msg.Headers = headers
	}

	return msg, nil
}

func (a *Adapter) buildSuccessResponse(result *sendinblue.Result) *models.ProviderResponse {
	meta := map[string]string{"esp": sendinblue.ESPName}
	resp := &models.ProviderResponse{
		Status:  "ok",
		Message: string(models.DeliveryQueued),
		Meta:    meta,
	}
	if result == nil {
		return resp
	}

	if raw := result.Response; raw != nil {
		code := raw.StatusCode
		resp.Code = &code
		resp.Raw = a.truncateRaw(raw)
		if !raw.Timestamp.IsZero() {
			meta["provider_timestamp"] = raw.Timestamp.UTC().Format(time.RFC3339Nano)
		}
	}

	if status := result.Status; status != nil {
		if id, ok := status.MessageID(); ok && id != nil {
			meta["provider_id"] = *id
		}
		resp.Recipients = make(map[string]models.RecipientStatus, len(status.Recipients))
		for addr, st := range status.Recipients {
			resp.Recipients[addr] = *st
		}
	}
	return resp
}

func (a *Adapter) buildErrorResponse(err error) *models.ProviderResponse {
	resp := &models.ProviderResponse{
		Status:  classifyStatus(err),
		Message: err.Error(),
		Meta:    map[string]string{"esp": sendinblue.ESPName},
	}

	var apiErr *emailprovider.APIError
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		code := apiErr.StatusCode()
		resp.Code = &code
		resp.Raw = a.truncateRaw(apiErr.Response)
	}
	return resp
}

func (a *Adapter) truncateRaw(raw *emailprovider.RawResponse) string {
	if raw == nil || len(raw.Body) == 0 {
		return ""
	}
	return common.TruncateRaw(string(raw.Body), a.maxRawChars)
}

func wrapError(err error) error {
	var featureErr *common.UnsupportedFeatureError
	switch {
	case errors.As(err, &featureErr):
		return common.WrapPermanent(err)
	case errors.Is(err, common.ErrPermanent), errors.Is(err, common.ErrTransient):
		return err
	case errors.Is(err, util.ErrInvalidEmail):
		return common.WrapPermanent(err)
	default:
		return common.WrapTransient(err)
	}
}

func classifyStatus(err error) string {
	var featureErr *common.UnsupportedFeatureError
	if errors.As(err, &featureErr) {
		return "unsupported"
	}

	var apiErr *emailprovider.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode()
		switch {
		case code == 429:
			return "rate_limited"
		case code >= 500:
			return "unavailable"
		default:
			return "rejected"
		}
	}

	if isTimeout(err) {
		return "timeout"
	}
	return "unknown"
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
