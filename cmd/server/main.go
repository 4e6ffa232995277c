package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/example/trip-allocation/internal/app"
	"github.com/example/trip-allocation/internal/config"
	httpapi "github.com/example/trip-allocation/internal/http"
	"github.com/example/trip-allocation/internal/logging"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid server config", "error", err)
		os.Exit(1)
	}
	acfg, err := config.LoadAllocatorConfig()
	if err != nil {
		logger.Error("invalid allocator config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, acfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close backends", "error", err)
		}
	}()

	deps := httpapi.Dependencies{
		Engine:    a.Engine,
		Batch:     a.Batch,
		Drivers:   a.Store,
		Locations: a.Locations,
		WS:        a.WS,
		Params:    acfg.Params(),
		Logger:    logging.ForComponent(logger, "http"),
	}
	if a.Kafka != nil {
		deps.Publisher = a.Kafka
	}
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("trip-allocation listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.RunAllocator {
		g.Go(func() error {
			err := a.Batch.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
