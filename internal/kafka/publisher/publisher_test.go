package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kafkapublisher "github.com/example/sendinblue-relay/internal/kafka/publisher"
	"github.com/example/sendinblue-relay/internal/models"
)

type fakeSyncProducer struct {
	err     error
	topic   string
	key     []byte
	headers map[string][]byte
	payload []byte
}

func (f *fakeSyncProducer) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	f.topic = topic
	f.key = append([]byte(nil), key...)
	f.headers = headers
	f.payload = append([]byte(nil), payload...)
	return f.err
}

func TestStatusPublisherPublishesEvent(t *testing.T) {
	prod := &fakeSyncProducer{}
	pub := kafkapublisher.NewStatusPublisher(prod, "email.status", zerolog.Nop())

	id := "<abc@smtp-relay.mailin.fr>"
	event := models.StatusEvent{
		MessageID: "message-1",
		Channel:   models.ChannelEmail,
		EventType: models.StatusEventSent,
		Attempt:   1,
		TraceID:   "trace-1",
		ProviderResponse: &models.ProviderResponse{
			Status: "ok",
			Recipients: map[string]models.RecipientStatus{
				"to@example.com": {MessageID: &id, Status: models.DeliveryQueued},
			},
		},
		Timestamp: time.Unix(123, 0).UTC(),
	}

	if err := pub.PublishStatus(context.Background(), event); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	if prod.topic != "email.status" {
		t.Fatalf("expected topic email.status, got %s", prod.topic)
	}
	if string(prod.key) != "message-1" {
		t.Fatalf("expected key message-1, got %s", string(prod.key))
	}
	if ct := prod.headers["content-type"]; string(ct) != "application/json" {
		t.Fatalf("expected content-type header, got %s", string(ct))
	}
	if et := prod.headers["event-type"]; string(et) != models.StatusEventSent {
		t.Fatalf("expected event-type header, got %s", string(et))
	}
	if tr := prod.headers["trace-id"]; string(tr) != "trace-1" {
		t.Fatalf("expected trace-id header, got %s", string(tr))
	}

	var payload models.StatusEvent
	if err := json.Unmarshal(prod.payload, &payload); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	st := payload.ProviderResponse.Recipients["to@example.com"]
	if st.MessageID == nil || *st.MessageID != id || st.Status != models.DeliveryQueued {
		t.Fatalf("unexpected recipient status %+v", st)
	}
}

func TestStatusPublisherPropagatesProducerError(t *testing.T) {
	expectedErr := errors.New("broker down")
	prod := &fakeSyncProducer{err: expectedErr}

	pub := kafkapublisher.NewStatusPublisher(prod, "email.status", zerolog.Nop())
	err := pub.PublishStatus(context.Background(), models.StatusEvent{MessageID: "id"})
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected producer error, got %v", err)
	}
}

func TestDLQPublisherPublishesRecord(t *testing.T) {
	prod := &fakeSyncProducer{}
	pub := kafkapublisher.NewDLQPublisher(prod, "email.dlq", zerolog.Nop())

	code := 400
	record := models.DLQRecord{
		MessageID:       "message-2",
		Channel:         models.ChannelEmail,
		OriginalMessage: json.RawMessage(`{"subject":"hi"}`),
		FailureType:     models.FailureTypePermanent,
		LastError:       "permanent error: Sendinblue API response 400",
		ProviderCode:    &code,
		FailedAt:        time.Unix(456, 0).UTC(),
	}

	if err := pub.PublishDLQ(context.Background(), record); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if string(prod.headers["failure-type"]) != models.FailureTypePermanent {
		t.Fatalf("expected failure-type header, got %s", prod.headers["failure-type"])
	}

	var payload models.DLQRecord
	if err := json.Unmarshal(prod.payload, &payload); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if payload.ProviderCode == nil || *payload.ProviderCode != 400 {
		t.Fatalf("unexpected provider code %+v", payload.ProviderCode)
	}
	if string(payload.OriginalMessage) != `{"subject":"hi"}` {
		t.Fatalf("unexpected original message %s", payload.OriginalMessage)
	}
}

func TestPublisherWithoutProducer(t *testing.T) {
	pub := kafkapublisher.NewDLQPublisher(nil, "email.dlq", zerolog.Nop())
	err := pub.PublishDLQ(context.Background(), models.DLQRecord{MessageID: "id"})
	if !errors.Is(err, kafkapublisher.ErrProducerNotInitialised) {
		t.Fatalf("expected not initialised error, got %v", err)
	}
}
