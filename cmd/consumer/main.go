package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/example/trip-allocation/internal/config"
	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/ingest"
	"github.com/example/trip-allocation/internal/logging"
	"github.com/example/trip-allocation/internal/storage"
)

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	logger := logging.ForComponent(logging.NewLogger(cfg.LogLevel), "consumer")
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, metricsAddr, logger); err != nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, metricsAddr string, logger *slog.Logger) error {
	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		locations storage.LocationStore
		drivers   ingest.AvailabilitySetter
		ready     []readiness
	)
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer ps.Close()
		drivers = ps
		locations = ps.Locations()
	}
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		locations = geo.NewRedisGeo(rc, cfg.RedisLocationPrefix)
		ready = append(ready, readiness{name: "redis", check: func(ctx context.Context) error { return rc.Ping(ctx).Err() }})
	}
	if locations == nil {
		return errors.New("REDIS_ADDR or PG_DSN is required")
	}

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: cfg.KafkaLocationTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	c := ingest.NewLocationConsumer(r, locations, drivers, logger)

	srv := &http.Server{Addr: metricsAddr, Handler: healthMux(ready), ReadHeaderTimeout: 5 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("consumer listening", "topic", cfg.KafkaLocationTopic, "brokers", brokers, "group", cfg.KafkaGroup)
		err := c.Run(gctx)
		if errors.Is(err, context.Canceled) {
			logger.Info("shutting down consumer")
			return nil
		}
		return err
	})
	return g.Wait()
}
