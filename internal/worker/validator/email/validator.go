package emailvalidator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	"github.com/example/sendinblue-relay/internal/config"
	"github.com/example/sendinblue-relay/internal/models"
	"github.com/example/sendinblue-relay/internal/util"
)

// Validator implements worker.Validator for the email channel. It parses JSON
// payloads, enforces the configured limits and returns a ValidatedMessage
// carrying the *models.EmailRequest.
type Validator struct {
	logger zerolog.Logger
	cfg    config.ValidationConfig
}

// New constructs a Validator using the supplied validation configuration.
func New(cfg config.ValidationConfig, logger zerolog.Logger) *Validator {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Validator{
		logger: logger,
		cfg:    cfg,
	}
}

// ParseAndValidate implements worker.Validator. On a validation error the
// returned message still carries the ids that could be read, so the failure
// can be reported against the right message.
func (v *Validator) ParseAndValidate(ctx context.Context, channel string, payload []byte) (*common.ValidatedMessage, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(payload) == 0 {
		return nil, errors.New("email validator: payload is empty")
	}

	var req models.EmailRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("email validator: decode: %w", err)
	}

	validated := &common.ValidatedMessage{
		Channel:    channel,
		MessageID:  strings.TrimSpace(req.MessageID),
		TraceID:    strings.TrimSpace(req.TraceID),
		TenantID:   strings.TrimSpace(req.TenantID),
		RawPayload: append([]byte(nil), payload...),
	}

	if err := v.applyDefaultsAndValidate(channel, &req); err != nil {
		v.logger.Debug().Str("message_id", validated.MessageID).Err(err).Msg("email validator rejected request")
		return validated, err
	}

	validated.Channel = req.Channel
	validated.MessageID = req.MessageID
	validated.TraceID = req.TraceID
	validated.TenantID = req.TenantID
	validated.CreatedAt = req.CreatedAt
	validated.Metadata = toAnyMap(req.Meta)
	validated.Request = &req
	return validated, nil
}

func (v *Validator) applyDefaultsAndValidate(channel string, req *models.EmailRequest) error {
	req.Channel = strings.TrimSpace(strings.ToLower(req.Channel))
	if req.Channel == "" {
		req.Channel = channel
	}
	if channel != "" && req.Channel != strings.ToLower(channel) {
		return fmt.Errorf("email validator: channel mismatch: expected %s, got %s", channel, req.Channel)
	}

	if _, err := util.ParseUUIDv4(req.MessageID); err != nil {
		return fmt.Errorf("email validator: message_id: %w", err)
	}

	req.MessageID = strings.TrimSpace(req.MessageID)
	req.TraceID = strings.TrimSpace(req.TraceID)
	req.TenantID = strings.TrimSpace(req.TenantID)

	if req.CreatedAt.IsZero() {
		return errors.New("email validator: created_at is required")
	}
	req.CreatedAt = req.CreatedAt.UTC()

	// An empty from is filled in by the configured default sender.
	if strings.TrimSpace(req.From) != "" {
		if _, err := util.ParseAddress(req.From); err != nil {
			return fmt.Errorf("email validator: from: %w", err)
		}
	}

	total := 0
	for _, field := range []struct {
		name   string
		values []string
	}{
		{"to", req.To},
		{"cc", req.CC},
		{"bcc", req.BCC},
		{"reply_to", req.ReplyTo},
	} {
		addrs, err := util.ParseAddressList(field.values)
		if err != nil {
			return fmt.Errorf("email validator: %s: %w", field.name, err)
		}
		if field.name != "reply_to" {
			total += len(addrs)
		}
	}
	if total == 0 {
		return errors.New("email validator: at least one to, cc or bcc recipient is required")
	}
	if v.cfg.RecipientsMax > 0 && total > v.cfg.RecipientsMax {
		return fmt.Errorf("email validator: %d recipients exceed max %d", total, v.cfg.RecipientsMax)
	}

	if err := util.EnsureMaxRunes("email validator: subject", req.Subject, v.cfg.SubjectMaxLen); err != nil {
		return err
	}
	if err := util.EnsureMaxBytes("email validator: body", []byte(req.Body.Text+req.Body.HTML), v.cfg.BodyMaxBytes); err != nil {
		return err
	}

	if err := v.validateAttachments(req.Attachments); err != nil {
		return err
	}

	if req.TemplateID != "" {
		id, err := util.ValidateTemplateID(req.TemplateID)
		if err != nil {
			return fmt.Errorf("email validator: template_id: %w", err)
		}
		req.TemplateID = id
	}

	meta, err := util.ValidateMetadata(req.Meta, v.cfg.MetaMaxEntries, v.cfg.MetaMaxKeyLen, v.cfg.MetaMaxValueLen)
	if err != nil {
		return fmt.Errorf("email validator: metadata: %w", err)
	}
	req.Meta = meta

	return nil
}

func (v *Validator) validateAttachments(atts []models.AttachmentRequest) error {
	if v.cfg.AttachmentsMax > 0 && len(atts) > v.cfg.AttachmentsMax {
		return fmt.Errorf("email validator: %d attachments exceed max %d", len(atts), v.cfg.AttachmentsMax)
	}
	for i, att := range atts {
		field := fmt.Sprintf("attachments[%d]", i)
		if strings.TrimSpace(att.Name) == "" {
			return fmt.Errorf("email validator: %s: name is required", field)
		}
		content, err := util.DecodeBase64(field, att.Content)
		if err != nil {
			return fmt.Errorf("email validator: %w", err)
		}
		if err := util.EnsureMaxBytes("email validator: "+field, content, v.cfg.AttachmentMaxBytes); err != nil {
			return err
		}
	}
	return nil
}

func toAnyMap(meta map[string]string) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
