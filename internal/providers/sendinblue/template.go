package sendinblue

import "fmt"

// templateRecipientFields maps basic send fields to their template send names.
var templateRecipientFields = []struct {
	from string
	to   string
}{
	{"to", "emailTo"},
	{"cc", "emailCc"},
	{"bcc", "emailBcc"},
}

// TemplateFieldError reports an address field whose value cannot be
// flattened for a template send.
type TemplateFieldError struct {
	Field string
	Value any
}

func (e *TemplateFieldError) Error() string {
	return fmt.Sprintf("sendinblue: cannot flatten %s of type %T for a template send", e.Field, e.Value)
}

// transformForTemplate rewrites data in place into the template send schema.
// Overriding the template subject or content is reported; the overriding
// values are still sent. A sender is always accepted.
func (p *Payload) transformForTemplate(data map[string]any) {
	if _, ok := data["subject"]; ok {
		p.unsupported("overriding template subject")
	}
	_, hasText := data["textContent"]
	_, hasHTML := data["htmlContent"]
	if hasText || hasHTML {
		p.unsupported("overriding template body content")
	}

	for _, field := range templateRecipientFields {
		v, ok := data[field.from]
		if !ok {
			continue
		}
		emails, named, ok := flattenEmails(v)
		if !ok {
			p.fail(&TemplateFieldError{Field: field.from, Value: v})
			continue
		}
		delete(data, field.from)
		if named {
			p.unsupported(fmt.Sprintf("display names in (%s) when sending with a template", field.from))
		}
		data[field.to] = emails
	}

	if v, ok := data["replyTo"]; ok {
		email, named, ok := flattenEmail(v)
		if !ok {
			p.fail(&TemplateFieldError{Field: "replyTo", Value: v})
			return
		}
		if named {
			p.unsupported("display names in (replyTo) when sending with a template")
		}
		data["replyTo"] = email
	}
}

// flattenEmails reduces a list of addresses to bare addresses and reports
// whether any of them had a display name. ok is false for shapes it does not
// know.
func flattenEmails(v any) (out []string, named, ok bool) {
	switch list := v.(type) {
	case nil:
		return nil, false, true
	case []string:
		return append([]string(nil), list...), false, true
	case []emailObject:
		out = make([]string, 0, len(list))
		for _, o := range list {
			out = append(out, o.Email)
			named = named || o.Name != ""
		}
		return out, named, true
	case []map[string]any:
		return flattenEach(len(list), func(i int) any { return list[i] })
	case []map[string]string:
		return flattenEach(len(list), func(i int) any { return list[i] })
	case []any:
		return flattenEach(len(list), func(i int) any { return list[i] })
	}
	return nil, false, false
}

func flattenEach(n int, item func(int) any) ([]string, bool, bool) {
	out := make([]string, 0, n)
	named := false
	for i := 0; i < n; i++ {
		email, hasName, ok := flattenEmail(item(i))
		if !ok {
			return nil, false, false
		}
		out = append(out, email)
		named = named || hasName
	}
	return out, named, true
}

func flattenEmail(v any) (email string, named, ok bool) {
	switch o := v.(type) {
	case emailObject:
		return o.Email, o.Name != "", true
	case map[string]any:
		email, ok := o["email"].(string)
		name, _ := o["name"].(string)
		return email, name != "", ok
	case map[string]string:
		email, ok := o["email"]
		return email, o["name"] != "", ok
	case string:
		return o, false, true
	}
	return "", false, false
}
