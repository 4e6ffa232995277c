// Package app wires stores, estimators, notifiers and the allocation engine
// from configuration. The binaries under cmd/ share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-allocation/internal/allocation"
	"github.com/example/trip-allocation/internal/batch"
	"github.com/example/trip-allocation/internal/config"
	"github.com/example/trip-allocation/internal/dispatch"
	"github.com/example/trip-allocation/internal/distance"
	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/ingest"
	"github.com/example/trip-allocation/internal/logging"
	"github.com/example/trip-allocation/internal/storage"
)

// Store is what both trip/driver stores provide.
type Store interface {
	storage.TripStore
	storage.DriverStore
	Seeder
}

type App struct {
	Logger    *slog.Logger
	Config    config.ServerConfig
	Allocator config.AllocatorConfig

	Store     Store
	Locations storage.LocationStore
	Engine    *allocation.Engine
	Batch     *batch.Allocator
	WS        *dispatch.WSRegistry
	Kafka     *ingest.KafkaProducer // nil without KAFKA_BROKERS

	closers []func() error
}

// Build connects to the configured backends. Postgres is used when PG_DSN is
// set, otherwise trips and drivers live in memory. Locations go to Redis when
// REDIS_ADDR is set, then Postgres, then memory.
func Build(ctx context.Context, cfg config.ServerConfig, acfg config.AllocatorConfig, logger *slog.Logger) (*App, error) {
	a := &App{Logger: logger, Config: cfg, Allocator: acfg}
	if err := a.openStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if cfg.SeedFile != "" {
		seed, err := ReadSeedFile(cfg.SeedFile)
		if err == nil {
			err = seed.Apply(ctx, a.Store, a.Locations, time.Now())
		}
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		logger.Info("seed applied", "file", cfg.SeedFile, "drivers", len(seed.Drivers), "trips", len(seed.Trips))
	}

	est, err := distance.New(acfg.Distance(), logging.ForComponent(logger, "distance"))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("distance estimator: %w", err)
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.Kafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaEventsTopic)
		a.closers = append(a.closers, a.Kafka.Close)
	}

	a.WS = dispatch.NewWSRegistry(logging.ForComponent(logger, "ws"))
	a.Engine = allocation.NewEngine(allocation.Options{
		Trips:              a.Store,
		Drivers:            a.Store,
		Locations:          a.Locations,
		Estimator:          est,
		ETA:                acfg.ETAPolicy(),
		ScoringConcurrency: acfg.ScoringConcurrency,
		Notifier:           a.notifier(),
		Logger:             logging.ForComponent(logger, "engine"),
	})
	a.Batch = batch.NewAllocator(a.Store, a.Engine, acfg.Batch(), logging.ForComponent(logger, "batch"))
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	var pg *storage.PostgresStore
	if a.Config.PGDSN != "" {
		ps, err := storage.NewPostgresStore(a.Config.PGDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, ps.Close)
		if a.Config.RunMigrations {
			if err := ps.Migrate(ctx, a.Config.MigrationFile); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.Logger.Info("migration applied", "file", a.Config.MigrationFile)
		}
		pg = ps
		a.Store = ps
	} else {
		a.Logger.Warn("PG_DSN not set; trips and drivers are kept in memory")
		a.Store = storage.NewMemoryStore()
	}

	switch {
	case a.Config.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr, Password: a.Config.RedisPassword})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.Locations = geo.NewRedisGeo(rdb, a.Config.RedisLocationPrefix)
	case pg != nil:
		a.Locations = pg.Locations()
	default:
		a.Locations = geo.NewIndex()
	}
	return nil
}

// notifier delivers over websocket first, then the webhook, and mirrors every
// event to Kafka when an events topic is configured.
func (a *App) notifier() allocation.Notifier {
	var fallback dispatch.Notifier
	if a.Config.NotifyWebhookURL != "" {
		fallback = dispatch.NewWebhookNotifier(a.Config.NotifyWebhookURL)
	}
	n := dispatch.Multi{dispatch.NewPushNotifier(a.WS, fallback)}
	if a.Kafka != nil && a.Config.KafkaEventsTopic != "" {
		n = append(n, dispatch.KafkaNotifier{Publisher: a.Kafka})
	}
	return n
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
