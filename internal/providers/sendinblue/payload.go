package sendinblue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	"github.com/example/sendinblue-relay/internal/models"
	"github.com/example/sendinblue-relay/internal/util"
)

// RecipientKind names one of the three recipient fields.
type RecipientKind string

const (
	RecipientTo  RecipientKind = "to"
	RecipientCC  RecipientKind = "cc"
	RecipientBCC RecipientKind = "bcc"
)

const (
	endpointEmail    = "smtp/email"
	endpointTemplate = "smtp/templates/%s/send"

	// tagHeader carries the single tag Sendinblue accepts.
	tagHeader = "X-Mailin-tag"
)

// emailObject is the API form of an address.
type emailObject struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func toEmailObject(a models.Address) emailObject {
	return emailObject{Email: a.AddrSpec, Name: a.DisplayName}
}

type attachmentObject struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Payload accumulates one Sendinblue request body. It is built fresh for
// every send and must not be shared between goroutines.
//
// Unsupported features are reported to the sink as they are met. The first
// error the sink returns is kept and surfaced by Err and Serialize; setters
// called after that still run.
type Payload struct {
	data          map[string]any
	headers       *HeaderMap
	allRecipients []models.Address
	templateID    string

	sink common.FeatureSink
	err  error
	body []byte
}

// NewPayload returns an empty payload reporting to sink. A nil sink rejects
// every unsupported feature.
func NewPayload(sink common.FeatureSink) *Payload {
	if sink == nil {
		sink = common.StrictSink{}
	}
	return &Payload{
		data:    make(map[string]any),
		headers: NewHeaderMap(),
		sink:    sink,
	}
}

func (p *Payload) unsupported(feature string) {
	if err := p.sink.Unsupported(ESPName, feature); err != nil {
		p.fail(err)
	}
}

func (p *Payload) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// Err returns the first error raised while building.
func (p *Payload) Err() error {
	return p.err
}

// Endpoint returns the API path, relative to the base URL.
func (p *Payload) Endpoint() string {
	if p.templateID != "" {
		return fmt.Sprintf(endpointTemplate, url.PathEscape(p.templateID))
	}
	return endpointEmail
}

// TemplateID returns the template reference, if any.
func (p *Payload) TemplateID() string {
	return p.templateID
}

// AllRecipients returns every to, cc and bcc address in the order added.
func (p *Payload) AllRecipients() []models.Address {
	return append([]models.Address(nil), p.allRecipients...)
}

// Body returns the bytes produced by the last successful Serialize.
func (p *Payload) Body() []byte {
	return p.body
}

func (p *Payload) SetFromEmail(addr models.Address) {
	p.data["sender"] = toEmailObject(addr)
}

func (p *Payload) SetRecipients(kind RecipientKind, addrs []models.Address) {
	switch kind {
	case RecipientTo, RecipientCC, RecipientBCC:
	default:
		p.fail(fmt.Errorf("sendinblue: unknown recipient kind %q", kind))
		return
	}
	if len(addrs) == 0 {
		return
	}
	objs := make([]emailObject, 0, len(addrs))
	for _, a := range addrs {
		objs = append(objs, toEmailObject(a))
	}
	p.data[string(kind)] = objs
	p.allRecipients = append(p.allRecipients, addrs...)
}

// SetSubject sets the subject. An empty subject is left out so it cannot
// blank a template's own subject.
func (p *Payload) SetSubject(subject string) {
	if subject != "" {
		p.data["subject"] = subject
	}
}

// SetReplyTo sets the reply address. Only the first address is sent.
func (p *Payload) SetReplyTo(addrs []models.Address) {
	if len(addrs) > 1 {
		p.unsupported("multiple reply_to addresses")
	}
	if len(addrs) > 0 {
		p.data["replyTo"] = toEmailObject(addrs[0])
	}
}

// SetExtraHeaders merges headers in. Keys are applied in sorted order so
// names differing only in case resolve the same way on every run.
func (p *Payload) SetExtraHeaders(headers map[string]string) {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p.headers.Set(name, headers[name])
	}
}

// SetTags sends the first tag through the X-Mailin-tag header.
func (p *Payload) SetTags(tags []string) {
	if len(tags) == 0 {
		return
	}
	p.headers.Set(tagHeader, tags[0])
	if len(tags) > 1 {
		p.unsupported(fmt.Sprintf("multiple tags (%q)", tags))
	}
}

func (p *Payload) SetTemplateID(id string) {
	p.templateID = id
}

func (p *Payload) SetTextBody(body string) {
	if body != "" {
		p.data["textContent"] = body
	}
}

func (p *Payload) SetHTMLBody(body string) {
	if body == "" {
		return
	}
	if _, ok := p.data["htmlContent"]; ok {
		p.unsupported("multiple html parts")
	}
	p.data["htmlContent"] = body
}

// AddAttachment appends att. Inline attachments are sent as regular ones.
func (p *Payload) AddAttachment(att models.Attachment) {
	if att.Inline {
		p.unsupported("inline attachments")
	}
	list, _ := p.data["attachment"].([]attachmentObject)
	p.data["attachment"] = append(list, attachmentObject{
		Name:    att.Name,
		Content: att.Base64Content(),
	})
}

// SetESPExtra merges extra into the top level of the body, replacing
// fields with the same name. A "headers" entry replaces the header set.
func (p *Payload) SetESPExtra(extra map[string]any) {
	for k, v := range extra {
		if k == "headers" {
			if h, ok := headersFrom(v); ok {
				p.headers = h
				continue
			}
		}
		p.data[k] = v
	}
}

func (p *Payload) SetMergeData(map[string]map[string]any) {
	p.unsupported("merge_data")
}

func (p *Payload) SetMergeGlobalData(data map[string]any) {
	p.data["attributes"] = data
}

// Serialize produces the JSON request body.
func (p *Payload) Serialize() ([]byte, error) {
	if replyTo, ok := p.headers.Pop("Reply-To"); ok {
		addrs, err := util.ParseAddressList([]string{replyTo})
		if err != nil {
			p.fail(fmt.Errorf("sendinblue: Reply-To header: %w", err))
		} else {
			p.SetReplyTo(addrs)
		}
	}
	if p.err != nil {
		return nil, p.err
	}

	data := make(map[string]any, len(p.data)+1)
	for k, v := range p.data {
		data[k] = v
	}
	if p.headers.Len() > 0 {
		data["headers"] = p.headers.Flatten()
	} else {
		delete(data, "headers")
	}

	if p.templateID != "" {
		p.transformForTemplate(data)
		if p.err != nil {
			return nil, p.err
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("sendinblue: encode payload: %w", err)
	}
	p.body = bytes.TrimRight(buf.Bytes(), "\n")
	return p.body, nil
}

func headersFrom(v any) (*HeaderMap, bool) {
	h := NewHeaderMap()
	switch m := v.(type) {
	case map[string]string:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Set(k, m[k])
		}
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s, ok := m[k].(string)
			if !ok {
				return nil, false
			}
			h.Set(k, s)
		}
	default:
		return nil, false
	}
	return h, true
}
