package producer

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
)

func newTestProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	sp := mocks.NewSyncProducer(t, nil)
	t.Cleanup(func() {
		if err := sp.Close(); err != nil {
			t.Errorf("close mock producer: %v", err)
		}
	})
	return &Producer{logger: zerolog.Nop(), syncProducer: sp}, sp
}

func TestPublishSyncMarksReady(t *testing.T) {
	p, sp := newTestProducer(t)
	sp.ExpectSendMessageAndSucceed()

	if err := p.PublishSync("email.status", []byte("id-1"), map[string][]byte{"event-type": []byte("sent")}, []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !p.IsReady() {
		t.Fatalf("expected producer ready after an acknowledged publish")
	}
}

func TestPublishSyncFailureClearsReadiness(t *testing.T) {
	p, sp := newTestProducer(t)
	p.ready.Store(true)
	sp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	err := p.PublishSync("email.dlq", nil, nil, []byte(`{}`))
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	if p.IsReady() {
		t.Fatalf("expected producer not ready after a failed publish")
	}
}

func TestPublishSyncRequiresTopic(t *testing.T) {
	p, _ := newTestProducer(t)
	if err := p.PublishSync("", nil, nil, nil); err == nil {
		t.Fatalf("expected error for empty topic")
	}
}

func TestToRecordHeadersCopiesValues(t *testing.T) {
	value := []byte("application/json")
	headers := toRecordHeaders(map[string][]byte{"content-type": value})
	if len(headers) != 1 || string(headers[0].Key) != "content-type" {
		t.Fatalf("unexpected headers %v", headers)
	}
	value[0] = 'X'
	if string(headers[0].Value) != "application/json" {
		t.Fatalf("header value must not alias the input")
	}
	if toRecordHeaders(nil) != nil {
		t.Fatalf("expected nil headers for empty input")
	}
}

func TestNewRequiresBrokers(t *testing.T) {
	if _, err := New(nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
