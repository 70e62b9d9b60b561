package email

import (
	"fmt"
	"net/http"
	"strings"

	common "github.com/example/sendinblue-relay/internal/adapters/common"
	"github.com/example/sendinblue-relay/internal/models"
)

// APIError is returned when an ESP rejects a request or answers with a body
// the backend cannot interpret. It keeps the original message, the serialized
// payload and the raw response for diagnostics.
type APIError struct {
	ESP         string
	Description string
	Message     *models.Message
	Payload     []byte
	Response    *RawResponse
}

// StatusCode returns the HTTP status of the response, or 0 when there was none.
func (e *APIError) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

func (e *APIError) Error() string {
	var b strings.Builder
	desc := e.Description
	if desc == "" {
		desc = fmt.Sprintf("%s API response %d", e.ESP, e.StatusCode())
	}
	b.WriteString(desc)
	if e.Response != nil {
		code := e.Response.StatusCode
		fmt.Fprintf(&b, " (%d %s)", code, http.StatusText(code))
		if body := strings.TrimSpace(string(e.Response.Body)); body != "" {
			b.WriteString(": ")
			b.WriteString(common.TruncateRaw(body, common.DefaultRawBodyLimit))
		}
	}
	return b.String()
}

// Unwrap classifies the failure. Throttling and server errors are transient;
// everything else, including malformed success bodies, is permanent.
func (e *APIError) Unwrap() error {
	code := e.StatusCode()
	if code == http.StatusTooManyRequests || code >= 500 {
		return common.ErrTransient
	}
	return common.ErrPermanent
}
