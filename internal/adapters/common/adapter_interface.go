package common

import (
	"context"
	"time"

	"github.com/example/sendinblue-relay/internal/models"
)

// Adapter converts a validated request into a provider call and reports the
// normalized outcome. Returned errors wrap ErrTransient or ErrPermanent.
type Adapter interface {
	Send(ctx context.Context, msg *ValidatedMessage) (*models.ProviderResponse, error)
}

// ValidatedMessage is a consumed request that passed validation. Request
// holds the channel specific model, *models.EmailRequest for email.
type ValidatedMessage struct {
	Channel      string
	MessageID    string
	TraceID      string
	TenantID     string
	CreatedAt    time.Time
	Metadata     map[string]any
	Request      any
	RawPayload   []byte
	Key          []byte
	KafkaHeaders map[string][]byte
}
