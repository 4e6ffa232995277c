// Package distance estimates travel distance and duration between two
// coordinates. A road-network provider is preferred; the great-circle
// distance is the fallback whenever the provider cannot answer.
package distance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/observability"
)

// ErrInvalidCoordinate is returned for caller errors: non-finite or
// out-of-range input.
var ErrInvalidCoordinate = geo.ErrInvalidCoordinate

var (
	ErrNoRoute        = errors.New("provider reported no route")
	ErrProviderStatus = errors.New("provider returned non-success status")
)

type Source string

const (
	SourceRoad      Source = "road"
	SourceHaversine Source = "haversine"
)

// Estimate is the result of a single estimator call. DurationMin is only
// meaningful when HasDuration is set.
type Estimate struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min,omitempty"`
	HasDuration bool    `json:"has_duration"`
	Source      Source  `json:"source"`
}

// Estimator is the interface used by the selector to score candidates.
type Estimator interface {
	Estimate(ctx context.Context, from, to models.Coord) (Estimate, error)
}

func validatePair(from, to models.Coord) error {
	if err := geo.Validate(from); err != nil {
		return err
	}
	return geo.Validate(to)
}

// Geometric estimates by haversine distance. Duration is derived from
// SpeedKmh; with a non-positive speed the duration is omitted.
type Geometric struct {
	SpeedKmh float64
}

func (g Geometric) Estimate(_ context.Context, from, to models.Coord) (Estimate, error) {
	if err := validatePair(from, to); err != nil {
		return Estimate{}, err
	}
	d := geo.Distance(from, to)
	est := Estimate{DistanceKm: d, Source: SourceHaversine}
	if g.SpeedKmh > 0 {
		est.DurationMin = d / g.SpeedKmh * 60
		est.HasDuration = true
	}
	observability.DistanceEstimates.WithLabelValues(string(SourceHaversine)).Inc()
	return est, nil
}

// Road asks a road-network provider once, under Timeout, and answers from
// Fallback on any provider failure. It never retries.
type Road struct {
	Provider Provider
	Fallback Estimator
	Mode     Mode
	Timeout  time.Duration
	Logger   *slog.Logger
}

func NewRoad(p Provider, fallback Estimator, mode Mode, timeout time.Duration, logger *slog.Logger) *Road {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == nil {
		fallback = Geometric{}
	}
	if mode == "" {
		mode = ModeDriving
	}
	return &Road{Provider: p, Fallback: fallback, Mode: mode, Timeout: timeout, Logger: logger}
}

func (r *Road) Estimate(ctx context.Context, from, to models.Coord) (Estimate, error) {
	if err := validatePair(from, to); err != nil {
		return Estimate{}, err
	}
	pctx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	start := time.Now()
	route, err := r.Provider.Route(pctx, from, to, r.Mode)
	if err == nil {
		observability.DistanceEstimates.WithLabelValues(string(SourceRoad)).Inc()
		return Estimate{
			DistanceKm:  route.DistanceKm,
			DurationMin: route.DurationMin,
			HasDuration: true,
			Source:      SourceRoad,
		}, nil
	}
	observability.ProviderFailures.Inc()
	r.Logger.Warn("distance provider unavailable",
		"kind", "provider_unavailable",
		"error", err,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return r.Fallback.Estimate(ctx, from, to)
}
