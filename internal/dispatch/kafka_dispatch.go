package dispatch

import (
	"context"

	"github.com/example/trip-allocation/internal/models"
)

// EventPublisher is satisfied by ingest.KafkaProducer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.TripEvent) error
}

// KafkaNotifier publishes events to the allocation events topic.
type KafkaNotifier struct {
	Publisher EventPublisher
}

func (k KafkaNotifier) Notify(ctx context.Context, ev models.TripEvent) error {
	return k.Publisher.PublishEvent(ctx, ev)
}
