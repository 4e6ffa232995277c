package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/observability"
	"github.com/example/trip-allocation/internal/storage"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// LocationConsumer applies location pings from Kafka to the location store.
type LocationConsumer struct {
	Reader     MessageReader
	Locations  storage.LocationStore
	Drivers    AvailabilitySetter
	Logger     *slog.Logger
	Attempts   int
	RetryDelay time.Duration
	MaxBackoff time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewLocationConsumer(r MessageReader, locations storage.LocationStore, drivers AvailabilitySetter, logger *slog.Logger) *LocationConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationConsumer{
		Reader:     r,
		Locations:  locations,
		Drivers:    drivers,
		Logger:     logger,
		Attempts:   3,
		RetryDelay: 200 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Run reads until ctx is done. Read errors back off exponentially; bad
// messages and store failures are logged and skipped.
func (c *LocationConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		m, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.Logger.Info("shutting down consumer")
				return ctx.Err()
			}
			c.Logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			c.sleep(ctx, backoff)
			backoff *= 2
			if backoff > c.MaxBackoff {
				backoff = c.MaxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second
		if err := c.Handle(ctx, m); err != nil {
			observability.ConsumerDropped.Inc()
			c.Logger.Debug("message dropped", "partition", m.Partition, "offset", m.Offset)
		}
	}
}

// Handle decodes and applies one message.
func (c *LocationConsumer) Handle(ctx context.Context, m kafka.Message) error {
	var p models.LocationPing
	if err := json.Unmarshal(m.Value, &p); err != nil {
		observability.LocationUpdates.WithLabelValues("invalid").Inc()
		c.Logger.Warn("invalid message", "error", err, "offset", m.Offset)
		return err
	}
	loc, err := ToLocation(p, c.now())
	if err != nil {
		observability.LocationUpdates.WithLabelValues("invalid").Inc()
		c.Logger.Warn("invalid location ping", "driver_id", p.DriverID, "error", err)
		return err
	}
	if err := updateWithRetry(ctx, c.Locations, loc, c.Attempts, c.RetryDelay, c.sleep); err != nil {
		observability.LocationUpdates.WithLabelValues("error").Inc()
		c.Logger.Error("location update failed", "driver_id", p.DriverID, "error", err)
		return err
	}
	if p.Availability != "" && c.Drivers != nil {
		if err := c.Drivers.SetAvailability(ctx, p.DriverID, p.Availability); err != nil && !errors.Is(err, storage.ErrNotFound) {
			observability.LocationUpdates.WithLabelValues("error").Inc()
			c.Logger.Error("availability update failed", "driver_id", p.DriverID, "error", err)
			return err
		}
	}
	observability.LocationUpdates.WithLabelValues("ok").Inc()
	return nil
}

// updateWithRetry upserts loc, retrying with a doubling delay.
func updateWithRetry(ctx context.Context, store storage.LocationStore, loc models.DriverLocation, attempts int, delay time.Duration, sleep func(context.Context, time.Duration)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.Upsert(ctx, loc); err == nil {
			return nil
		}
		if i == attempts-1 || ctx.Err() != nil {
			break
		}
		sleep(ctx, delay)
		delay *= 2
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
