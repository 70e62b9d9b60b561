package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/sendinblue-relay/internal/models"
	"github.com/example/sendinblue-relay/internal/worker"
)

type failingPublisher struct{ err error }

func (f failingPublisher) PublishStatus(context.Context, models.StatusEvent) error { return f.err }

func TestStatusFanoutPublishesToAll(t *testing.T) {
	first := &statusCollector{}
	second := &statusCollector{}
	boom := errors.New("boom")

	fanout := worker.StatusFanout{first, failingPublisher{err: boom}, nil, second}
	err := fanout.PublishStatus(context.Background(), models.StatusEvent{MessageID: "id", EventType: models.StatusEventSent})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both publishers to receive the event")
	}
}
