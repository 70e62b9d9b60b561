package models

import "time"

// Status event constants.
const (
	StatusEventQueued   = "queued"
	StatusEventAttempt  = "attempt"
	StatusEventSent     = "sent"
	StatusEventRejected = "rejected"
	StatusEventFailed   = "failed"
	StatusEventDLQ      = "dlq"
)

// DeliveryStatus is the provider reported state of a single recipient.
type DeliveryStatus string

// DeliveryQueued means the ESP accepted the message for later delivery.
const DeliveryQueued DeliveryStatus = "queued"

// RecipientStatus is the outcome of a send for one recipient.
type RecipientStatus struct {
	MessageID *string        `json:"message_id"`
	Status    DeliveryStatus `json:"status"`
}

// SendStatus aggregates the recipient statuses of one send.
type SendStatus struct {
	Recipients map[string]*RecipientStatus `json:"recipients"`
}

// MessageID returns the message id shared by every recipient. It returns
// false when there are no recipients or when the ids differ.
func (s *SendStatus) MessageID() (*string, bool) {
	var (
		id    *string
		found bool
	)
	for _, st := range s.Recipients {
		if !found {
			id, found = st.MessageID, true
			continue
		}
		if !sameID(id, st.MessageID) {
			return nil, false
		}
	}
	return id, found
}

// Statuses returns the distinct recipient statuses.
func (s *SendStatus) Statuses() map[DeliveryStatus]struct{} {
	out := make(map[DeliveryStatus]struct{})
	for _, st := range s.Recipients {
		out[st.Status] = struct{}{}
	}
	return out
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ProviderResponse captures normalized adapter responses.
type ProviderResponse struct {
	Status     string                     `json:"status"`
	Code       *int                       `json:"code,omitempty"`
	Message    string                     `json:"message,omitempty"`
	Raw        string                     `json:"raw,omitempty"`
	Meta       map[string]string          `json:"meta,omitempty"`
	Recipients map[string]RecipientStatus `json:"recipients,omitempty"`
}

// StatusEvent represents lifecycle events emitted for outbound messages.
type StatusEvent struct {
	MessageID        string            `json:"message_id"`
	Channel          string            `json:"channel"`
	EventType        string            `json:"event_type"`
	Attempt          int               `json:"attempt,omitempty"`
	ProviderResponse *ProviderResponse `json:"provider_response,omitempty"`
	Error            string            `json:"error,omitempty"`
	TraceID          string            `json:"trace_id,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}
