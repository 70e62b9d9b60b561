package worker

import (
	"context"
	"errors"

	"github.com/example/sendinblue-relay/internal/models"
)

// StatusFanout publishes every event to each publisher in order. All
// publishers are tried; their errors are joined.
type StatusFanout []StatusPublisher

// PublishStatus implements StatusPublisher.
func (f StatusFanout) PublishStatus(ctx context.Context, event models.StatusEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishStatus(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
