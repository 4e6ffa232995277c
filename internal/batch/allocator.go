// Package batch drives the allocation engine over the backlog of pending
// trips, either once or continuously.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/trip-allocation/internal/allocation"
	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/observability"
	"github.com/example/trip-allocation/internal/storage"
)

// Backlog lists the trips waiting for a driver, oldest first, leaving out
// trips created before createdAfter.
type Backlog interface {
	ListPending(ctx context.Context, createdAfter time.Time, limit int) ([]models.Trip, error)
}

type Engine interface {
	Allocate(ctx context.Context, tripID string, p allocation.Params) (allocation.Assignment, error)
}

type Config struct {
	Params          allocation.Params
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	StaleAfter      time.Duration
	TripTimeout     time.Duration
	MaxTrips        int
	ConflictRetries int
}

func DefaultConfig() Config {
	return Config{
		Params:          allocation.DefaultParams(),
		PollInterval:    10 * time.Second,
		ErrorBackoff:    30 * time.Second,
		StaleAfter:      30 * time.Minute,
		TripTimeout:     15 * time.Second,
		MaxTrips:        50,
		ConflictRetries: 1,
	}
}

// Outcome records what happened to one trip during a pass.
type Outcome struct {
	TripID     string          `json:"trip_id"`
	Allocated  bool            `json:"allocated"`
	Skipped    bool            `json:"skipped,omitempty"`
	DriverID   string          `json:"driver_id,omitempty"`
	DistanceKm float64         `json:"distance_km,omitempty"`
	ETAMinutes int             `json:"eta_minutes,omitempty"`
	Kind       allocation.Kind `json:"kind,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Attempts   int             `json:"attempts"`
}

type Report struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Processed int       `json:"processed"`
	Allocated int       `json:"allocated"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Outcomes  []Outcome `json:"outcomes"`
}

type Allocator struct {
	backlog Backlog
	engine  Engine
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewAllocator(backlog Backlog, engine Engine, cfg Config, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		backlog: backlog,
		engine:  engine,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// RunOnce makes one pass over the backlog. Per-trip failures are recorded in
// the report; only a failure to read the backlog is returned.
func (a *Allocator) RunOnce(ctx context.Context) (Report, error) {
	start := a.now()
	rep := Report{StartedAt: start, Outcomes: []Outcome{}}
	// stale trips stay pending; filtering them in the query keeps them from
	// filling the MaxTrips window ahead of newer trips
	var createdAfter time.Time
	if a.cfg.StaleAfter > 0 {
		createdAfter = start.Add(-a.cfg.StaleAfter)
	}
	trips, err := a.backlog.ListPending(ctx, createdAfter, a.cfg.MaxTrips)
	if err != nil {
		observability.BatchPasses.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("list pending trips: %w", err)
	}
	observability.PendingBacklog.Set(float64(len(trips)))

	for _, t := range trips {
		if ctx.Err() != nil {
			break
		}
		out := a.process(ctx, t)
		rep.Processed++
		switch {
		case out.Skipped:
			rep.Skipped++
			observability.BatchTrips.WithLabelValues("skipped").Inc()
		case out.Allocated:
			rep.Allocated++
			observability.BatchTrips.WithLabelValues("allocated").Inc()
		default:
			rep.Failed++
			observability.BatchTrips.WithLabelValues(string(out.Kind)).Inc()
		}
		rep.Outcomes = append(rep.Outcomes, out)
	}
	rep.Duration = time.Since(start).String()
	observability.BatchPasses.WithLabelValues("ok").Inc()
	a.logger.Info("batch pass finished",
		"processed", rep.Processed, "allocated", rep.Allocated,
		"failed", rep.Failed, "skipped", rep.Skipped)
	return rep, nil
}

func (a *Allocator) process(ctx context.Context, t models.Trip) Outcome {
	out := Outcome{TripID: t.ID}
	if a.cfg.StaleAfter > 0 && a.now().Sub(t.CreatedAt) > a.cfg.StaleAfter {
		out.Skipped = true
		out.Reason = "trip older than " + a.cfg.StaleAfter.String()
		a.logger.Info("skipping stale trip", "trip_id", t.ID, "created_at", t.CreatedAt)
		return out
	}

	for {
		out.Attempts++
		asg, err := a.allocateOne(ctx, t.ID)
		if err == nil {
			out.Allocated = true
			out.DriverID = asg.DriverID
			out.DistanceKm = asg.DistanceKm
			out.ETAMinutes = asg.ETAMinutes
			out.Kind, out.Reason = "", ""
			return out
		}
		out.Kind = allocation.KindOf(err)
		out.Reason = reason(err)
		// a lost driver means the trip is still pending and a fresh selection
		// may find someone else
		if !errors.Is(err, storage.ErrDriverOccupied) || out.Attempts > a.cfg.ConflictRetries || ctx.Err() != nil {
			return out
		}
	}
}

func (a *Allocator) allocateOne(ctx context.Context, tripID string) (allocation.Assignment, error) {
	if a.cfg.TripTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.TripTimeout)
		defer cancel()
	}
	return a.engine.Allocate(ctx, tripID, a.cfg.Params)
}

// Run repeats RunOnce until ctx is done, waiting PollInterval between passes
// and ErrorBackoff after a pass that could not read the backlog.
func (a *Allocator) Run(ctx context.Context) error {
	a.logger.Info("continuous allocation started",
		"poll_interval", a.cfg.PollInterval.String(), "max_radius_km", a.cfg.Params.MaxRadiusKm,
		"freshness", a.cfg.Params.Freshness.String())
	for {
		wait := a.cfg.PollInterval
		if _, err := a.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("batch pass failed", "kind", allocation.KindStorageFailure, "error", err,
				"backoff", a.cfg.ErrorBackoff.String())
			wait = a.cfg.ErrorBackoff
		}
		if err := a.sleep(ctx, wait); err != nil {
			a.logger.Info("continuous allocation stopped")
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func reason(err error) string {
	var ae *allocation.Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return err.Error()
}
