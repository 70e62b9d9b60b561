package models

import (
	"encoding/base64"
	"net/mail"
)

// Address is a single mailbox. DisplayName is optional.
type Address struct {
	AddrSpec    string
	DisplayName string
}

// String formats the address in RFC 5322 form.
func (a Address) String() string {
	return (&mail.Address{Name: a.DisplayName, Address: a.AddrSpec}).String()
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Name     string
	Content  []byte
	MimeType string
	Inline   bool
}

// Base64Content returns the attachment content in standard base64.
func (a Attachment) Base64Content() string {
	return base64.StdEncoding.EncodeToString(a.Content)
}

// Message is the provider independent representation of one outbound email.
// ESP backends read it but never modify it.
type Message struct {
	From    Address
	To      []Address
	CC      []Address
	BCC     []Address
	ReplyTo []Address

	Subject  string
	TextBody string
	HTMLBody string

	Attachments []Attachment
	Headers     map[string]string
	Tags        []string

	TemplateID      string
	MergeData       map[string]map[string]any
	MergeGlobalData map[string]any

	// ESPExtra is merged verbatim into the provider request body.
	ESPExtra map[string]any
}

// SendDefaults are applied to every message before it is handed to a
// backend. Values on the message take precedence.
type SendDefaults struct {
	From            Address
	Tags            []string
	Headers         map[string]string
	TemplateID      string
	MergeGlobalData map[string]any
	ESPExtra        map[string]any
}

// Apply returns a copy of msg with the defaults merged in. Default tags are
// placed before the message's own tags; for mappings the message wins.
func (d SendDefaults) Apply(msg *Message) *Message {
	out := *msg
	if out.From.AddrSpec == "" {
		out.From = d.From
	}
	if out.TemplateID == "" {
		out.TemplateID = d.TemplateID
	}
	if len(d.Tags) > 0 {
		tags := make([]string, 0, len(d.Tags)+len(msg.Tags))
		tags = append(tags, d.Tags...)
		out.Tags = append(tags, msg.Tags...)
	}
	out.Headers = mergeStrings(d.Headers, msg.Headers)
	out.MergeGlobalData = mergeAny(d.MergeGlobalData, msg.MergeGlobalData)
	out.ESPExtra = mergeAny(d.ESPExtra, msg.ESPExtra)
	return &out
}

func mergeStrings(base, override map[string]string) map[string]string {
	if len(base) == 0 {
		return override
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func mergeAny(base, override map[string]any) map[string]any {
	if len(base) == 0 {
		return override
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
