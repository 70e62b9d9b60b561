package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/example/sendinblue-relay/internal/models"
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// StatusPublisher mirrors status events to an AMQP topic exchange. Events are
// routed by "<channel>.<event_type>", for example "email.sent".
type StatusPublisher struct {
	channel  Channel
	exchange string
	logger   zerolog.Logger
	closers  []func() error
}

// NewStatusPublisher publishes through an existing channel.
func NewStatusPublisher(ch Channel, exchange string, logger zerolog.Logger) (*StatusPublisher, error) {
	if ch == nil {
		return nil, errors.New("amqp publisher: channel is required")
	}
	if exchange == "" {
		return nil, errors.New("amqp publisher: exchange is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &StatusPublisher{channel: ch, exchange: exchange, logger: logger}, nil
}

// Dial connects to the broker at uri and declares a durable topic exchange.
func Dial(uri, exchange string, logger zerolog.Logger) (*StatusPublisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: dial: %w", err)
	}
	logger.Debug().Msg("amqp publisher connected")

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp publisher: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp publisher: declare exchange %s: %w", exchange, err)
	}

	p, err := NewStatusPublisher(ch, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.closers = []func() error{ch.Close, conn.Close}
	return p, nil
}

// PublishStatus implements worker.StatusPublisher.
func (p *StatusPublisher) PublishStatus(_ context.Context, event models.StatusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("amqp publisher: marshal status event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.MessageID,
		Timestamp:    event.Timestamp,
		Body:         body,
	}
	if event.TraceID != "" {
		msg.CorrelationId = event.TraceID
	}

	key := RoutingKey(event)
	if err := p.channel.Publish(p.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("amqp publisher: publish %s: %w", key, err)
	}

	p.logger.Debug().
		Str("exchange", p.exchange).
		Str("routing_key", key).
		Str("message_id", event.MessageID).
		Msg("amqp publisher wrote status event")
	return nil
}

// RoutingKey returns the routing key used for event.
func RoutingKey(event models.StatusEvent) string {
	channel := event.Channel
	if channel == "" {
		channel = models.ChannelEmail
	}
	return channel + "." + event.EventType
}

// Close releases the channel and connection opened by Dial.
func (p *StatusPublisher) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
