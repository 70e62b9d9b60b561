package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/sendinblue-relay/internal/models"
)

// ErrProducerNotInitialised is returned by publishers built without a producer.
var ErrProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// SyncProducer captures the subset of producer behaviour required by the Kafka publishers.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// jsonPublisher writes JSON documents keyed by message id.
type jsonPublisher struct {
	producer SyncProducer
	topic    string
	logger   zerolog.Logger
}

func newJSONPublisher(prod SyncProducer, topic string, logger zerolog.Logger) jsonPublisher {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return jsonPublisher{producer: prod, topic: topic, logger: logger}
}

func (p *jsonPublisher) publish(kind, messageID, traceID string, extra map[string][]byte, doc any) error {
	if p.producer == nil {
		return ErrProducerNotInitialised
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal %s: %w", kind, err)
	}

	headers := map[string][]byte{
		"content-type": []byte("application/json"),
	}
	if traceID != "" {
		headers["trace-id"] = []byte(traceID)
	}
	for k, v := range extra {
		headers[k] = v
	}

	if err := p.producer.PublishSync(p.topic, []byte(messageID), headers, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish %s: %w", kind, err)
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("message_id", messageID).
		Str("kind", kind).
		Msg("kafka publisher wrote record")
	return nil
}

// StatusPublisher emits status events to a Kafka topic.
type StatusPublisher struct {
	jsonPublisher
}

// NewStatusPublisher constructs a StatusPublisher instance.
func NewStatusPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *StatusPublisher {
	return &StatusPublisher{newJSONPublisher(prod, topic, logger)}
}

// PublishStatus writes the supplied status event synchronously.
func (p *StatusPublisher) PublishStatus(_ context.Context, event models.StatusEvent) error {
	if p == nil {
		return ErrProducerNotInitialised
	}
	return p.publish("status event", event.MessageID, event.TraceID,
		map[string][]byte{"event-type": []byte(event.EventType)}, event)
}

// DLQPublisher writes DLQ records to a Kafka topic.
type DLQPublisher struct {
	jsonPublisher
}

// NewDLQPublisher constructs a DLQPublisher instance.
func NewDLQPublisher(prod SyncProducer, topic string, logger zerolog.Logger) *DLQPublisher {
	return &DLQPublisher{newJSONPublisher(prod, topic, logger)}
}

// PublishDLQ writes the supplied DLQ record synchronously.
func (p *DLQPublisher) PublishDLQ(_ context.Context, record models.DLQRecord) error {
	if p == nil {
		return ErrProducerNotInitialised
	}
	return p.publish("dlq record", record.MessageID, record.TraceID,
		map[string][]byte{"failure-type": []byte(record.FailureType)}, record)
}
