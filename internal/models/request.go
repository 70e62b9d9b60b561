package models

import "time"

// ChannelEmail is the only channel handled by this service.
const ChannelEmail = "email"

// BaseRequest captures attributes that are shared across all message
// requests regardless of the channel.
type BaseRequest struct {
	MessageID string            `json:"message_id"`
	Channel   string            `json:"channel"`
	TenantID  string            `json:"tenant_id,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// MessageBody holds the text and HTML alternatives of an email. Either part
// may be empty; template sends usually leave both unset.
type MessageBody struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// AttachmentRequest is an attachment as it arrives on the request topic.
// Content is standard base64.
type AttachmentRequest struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	MimeType string `json:"mime_type,omitempty"`
	Inline   bool   `json:"inline,omitempty"`
}

// EmailRequest models the payload expected for email messages. Addresses use
// RFC 5322 form, so "Name <addr@example.com>" is accepted.
type EmailRequest struct {
	BaseRequest
	From            string                    `json:"from,omitempty"`
	To              []string                  `json:"to,omitempty"`
	CC              []string                  `json:"cc,omitempty"`
	BCC             []string                  `json:"bcc,omitempty"`
	ReplyTo         []string                  `json:"reply_to,omitempty"`
	Subject         string                    `json:"subject,omitempty"`
	Body            MessageBody               `json:"body"`
	Attachments     []AttachmentRequest       `json:"attachments,omitempty"`
	Headers         map[string]string         `json:"headers,omitempty"`
	Tags            []string                  `json:"tags,omitempty"`
	TemplateID      string                    `json:"template_id,omitempty"`
	MergeData       map[string]map[string]any `json:"merge_data,omitempty"`
	MergeGlobalData map[string]any            `json:"merge_global_data,omitempty"`
	ESPExtra        map[string]any            `json:"esp_extra,omitempty"`
}

// MessageRequest exposes the metadata that is common to all request types.
type MessageRequest interface {
	GetMessageID() string
	GetChannel() string
	GetTraceID() string
	GetCreatedAt() time.Time
	GetMeta() map[string]string
}

// GetMessageID returns the UUID of the message request.
func (b BaseRequest) GetMessageID() string { return b.MessageID }

// GetChannel returns the message channel.
func (b BaseRequest) GetChannel() string { return b.Channel }

// GetTraceID returns the trace identifier attached to the request if any.
func (b BaseRequest) GetTraceID() string { return b.TraceID }

// GetCreatedAt returns the timestamp the request was created.
func (b BaseRequest) GetCreatedAt() time.Time { return b.CreatedAt }

// GetMeta returns the arbitrary metadata attached to the message.
func (b BaseRequest) GetMeta() map[string]string { return b.Meta }
