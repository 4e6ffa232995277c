package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-allocation/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes driver location pings and allocation events, each
// to its own topic. Messages are keyed by driver id so one driver's pings
// stay ordered within a partition.
type KafkaProducer struct {
	locations messageWriter
	events    messageWriter
	timeout   time.Duration
}

func NewKafkaProducer(brokers []string, locationTopic, eventsTopic string) *KafkaProducer {
	newWriter := func(topic string) messageWriter {
		if topic == "" {
			return nil
		}
		return kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	}
	return &KafkaProducer{locations: newWriter(locationTopic), events: newWriter(eventsTopic), timeout: 2 * time.Second}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, p models.LocationPing) error {
	return k.write(ctx, k.locations, p.DriverID, p)
}

func (k *KafkaProducer) PublishEvent(ctx context.Context, ev models.TripEvent) error {
	return k.write(ctx, k.events, ev.DriverID, ev)
}

func (k *KafkaProducer) write(ctx context.Context, w messageWriter, key string, v any) error {
	if w == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	var first error
	for _, w := range []messageWriter{k.locations, k.events} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
