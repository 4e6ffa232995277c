// Package allocation matches pending trips to the nearest eligible driver and
// commits the match atomically. It also releases allocations on cancellation.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/trip-allocation/internal/distance"
	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/observability"
	"github.com/example/trip-allocation/internal/storage"
)

// Params are the per-call allocation settings.
type Params struct {
	MaxRadiusKm float64
	Freshness   time.Duration
}

// DefaultParams returns a 10 km radius and a 5 minute freshness window.
func DefaultParams() Params {
	return Params{MaxRadiusKm: 10, Freshness: 5 * time.Minute}
}

func (p Params) validate() error {
	if p.MaxRadiusKm <= 0 {
		return newError(KindInvalidInput, fmt.Sprintf("max radius must be positive, got %v", p.MaxRadiusKm), nil)
	}
	if p.Freshness <= 0 {
		return newError(KindInvalidInput, fmt.Sprintf("freshness window must be positive, got %s", p.Freshness), nil)
	}
	return nil
}

// ETAPolicy derives a pickup ETA from distance: MinutesPerKm per km,
// truncated, never below MinMinutes.
type ETAPolicy struct {
	MinutesPerKm float64
	MinMinutes   int
}

func DefaultETAPolicy() ETAPolicy { return ETAPolicy{MinutesPerKm: 2, MinMinutes: 5} }

func (p ETAPolicy) Minutes(distanceKm float64) int {
	m := int(distanceKm * p.MinutesPerKm)
	if m < p.MinMinutes {
		return p.MinMinutes
	}
	return m
}

// Assignment is the result of a successful allocation.
type Assignment struct {
	TripID     string          `json:"trip_id"`
	DriverID   string          `json:"driver_id"`
	DistanceKm float64         `json:"distance_km"`
	ETAMinutes int             `json:"eta_minutes"`
	Source     distance.Source `json:"distance_source"`
	AssignedAt time.Time       `json:"assigned_at"`
}

// Cancellation is the result of a released allocation.
type Cancellation struct {
	TripID      string    `json:"trip_id"`
	DriverID    string    `json:"released_driver_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// Notifier receives allocation events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev models.TripEvent) error
}

type Options struct {
	Trips              storage.TripStore
	Drivers            storage.DriverStore
	Locations          storage.LocationStore
	Estimator          distance.Estimator
	ETA                ETAPolicy
	ScoringConcurrency int
	Notifier           Notifier
	Logger             *slog.Logger
	Clock              func() time.Time
}

type Engine struct {
	trips     storage.TripStore
	drivers   storage.DriverStore
	locations storage.LocationStore
	filter    *Filter
	selector  *Selector
	eta       ETAPolicy
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(o Options) *Engine {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Estimator == nil {
		o.Estimator = distance.Geometric{}
	}
	if o.ETA == (ETAPolicy{}) {
		o.ETA = DefaultETAPolicy()
	}
	return &Engine{
		trips:     o.Trips,
		drivers:   o.Drivers,
		locations: o.Locations,
		filter:    &Filter{Drivers: o.Drivers, Trips: o.Trips, Locations: o.Locations, Now: o.Clock},
		selector:  &Selector{Estimator: o.Estimator, Concurrency: o.ScoringConcurrency, Logger: o.Logger},
		eta:       o.ETA,
		notifier:  o.Notifier,
		logger:    o.Logger,
		now:       o.Clock,
	}
}

// Allocate assigns the nearest eligible driver within p.MaxRadiusKm to a
// pending trip. Every failure is an *Error. A lost race at commit time is a
// KindConflict wrapping storage.ErrTripNotPending or storage.ErrDriverOccupied;
// Allocate never retries on its own.
func (e *Engine) Allocate(ctx context.Context, tripID string, p Params) (Assignment, error) {
	start := time.Now()
	a, err := e.allocate(ctx, tripID, p)
	observability.AllocationLatency.Observe(time.Since(start).Seconds())
	log := e.logger.With("trip_id", tripID, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		kind := KindOf(err)
		observability.AllocationsTotal.WithLabelValues(string(kind)).Inc()
		if kind == KindStorageFailure {
			log.Error("allocation failed", "kind", kind, "error", err)
		} else {
			log.Info("trip not allocated", "kind", kind, "reason", reasonOf(err))
		}
		return Assignment{}, err
	}
	observability.AllocationsTotal.WithLabelValues("allocated").Inc()
	log.Info("trip allocated", "driver_id", a.DriverID, "distance_km", a.DistanceKm,
		"eta_minutes", a.ETAMinutes, "source", a.Source)
	e.notify(ctx, models.TripEvent{
		Type:       models.EventTripAssigned,
		TripID:     a.TripID,
		DriverID:   a.DriverID,
		DistanceKm: a.DistanceKm,
		ETAMinutes: a.ETAMinutes,
		At:         a.AssignedAt,
	})
	return a, nil
}

func (e *Engine) allocate(ctx context.Context, tripID string, p Params) (Assignment, error) {
	if strings.TrimSpace(tripID) == "" {
		return Assignment{}, newError(KindInvalidInput, "trip id is required", nil)
	}
	if err := p.validate(); err != nil {
		return Assignment{}, err
	}
	trip, err := e.trips.GetTrip(ctx, tripID)
	if errors.Is(err, storage.ErrNotFound) {
		return Assignment{}, newError(KindNotFound, ReasonTripNotFound, err)
	}
	if err != nil {
		return Assignment{}, newError(KindStorageFailure, "load trip", err)
	}
	if !trip.Unassigned() {
		return Assignment{}, newError(KindConflict, ReasonAlreadyResolved, storage.ErrTripNotPending)
	}
	if trip.Pickup == nil {
		return Assignment{}, newError(KindInvalidInput, ReasonMissingPickup, nil)
	}
	if err := geo.Validate(*trip.Pickup); err != nil {
		return Assignment{}, newError(KindInvalidInput, "trip pickup is not a valid coordinate", err)
	}

	cands, err := e.filter.Eligible(ctx, p.Freshness)
	if err != nil {
		return Assignment{}, classify(err, "filter candidates")
	}
	sel, err := e.selector.Select(ctx, *trip.Pickup, cands, p.MaxRadiusKm)
	if err != nil {
		return Assignment{}, err
	}

	driverID := sel.Candidate.Driver.ID
	committed, err := e.trips.CommitAssignment(ctx, trip.ID, driverID, e.now())
	switch {
	case errors.Is(err, storage.ErrTripNotPending):
		return Assignment{}, newError(KindConflict, ReasonAlreadyResolved, err)
	case errors.Is(err, storage.ErrDriverOccupied):
		return Assignment{}, newError(KindConflict, ReasonDriverUnavailable, err)
	case errors.Is(err, storage.ErrNotFound):
		return Assignment{}, newError(KindNotFound, ReasonTripNotFound, err)
	case err != nil:
		return Assignment{}, newError(KindStorageFailure, "commit assignment", err)
	}

	a := Assignment{
		TripID:     committed.ID,
		DriverID:   driverID,
		DistanceKm: sel.Estimate.DistanceKm,
		ETAMinutes: e.eta.Minutes(sel.Estimate.DistanceKm),
		Source:     sel.Estimate.Source,
		AssignedAt: e.now(),
	}
	if committed.AssignedAt != nil {
		a.AssignedAt = *committed.AssignedAt
	}
	return a, nil
}

// Cancel releases the driver of an accepted or in-progress trip and moves the
// trip to cancelled. Pending trips are cancelled by the booking flow, not here.
func (e *Engine) Cancel(ctx context.Context, tripID, reason string) (Cancellation, error) {
	c, err := e.cancel(ctx, tripID, reason)
	if err != nil {
		kind := KindOf(err)
		observability.CancellationsTotal.WithLabelValues(string(kind)).Inc()
		e.logger.Info("cancellation rejected", "trip_id", tripID, "kind", kind, "reason", reasonOf(err))
		return Cancellation{}, err
	}
	observability.CancellationsTotal.WithLabelValues("cancelled").Inc()
	e.logger.Info("allocation cancelled", "trip_id", tripID, "driver_id", c.DriverID, "reason", c.Reason)
	e.notify(ctx, models.TripEvent{
		Type:     models.EventTripCancelled,
		TripID:   c.TripID,
		DriverID: c.DriverID,
		Reason:   c.Reason,
		At:       c.CancelledAt,
	})
	return c, nil
}

func (e *Engine) cancel(ctx context.Context, tripID, reason string) (Cancellation, error) {
	reason = strings.TrimSpace(reason)
	if strings.TrimSpace(tripID) == "" {
		return Cancellation{}, newError(KindInvalidInput, "trip id is required", nil)
	}
	at := e.now()
	driverID, err := e.trips.CancelAssignment(ctx, tripID, reason, at)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return Cancellation{}, newError(KindNotFound, ReasonTripNotFound, err)
	case errors.Is(err, storage.ErrNotCancellable):
		return Cancellation{}, newError(KindConflict, "trip is not accepted or in progress", err)
	case err != nil:
		return Cancellation{}, newError(KindStorageFailure, "cancel assignment", err)
	}
	return Cancellation{TripID: tripID, DriverID: driverID, Reason: reason, CancelledAt: at}, nil
}

// Stats summarizes driver availability for operators.
type Stats struct {
	TotalDrivers       int     `json:"total_drivers"`
	ActiveDrivers      int     `json:"active_drivers"`
	WithRecentLocation int     `json:"drivers_with_recent_location"`
	OccupiedDrivers    int     `json:"occupied_drivers"`
	AvailableDrivers   int     `json:"available_drivers"`
	FreshnessMinutes   float64 `json:"location_update_threshold_minutes"`
}

// Stats counts drivers against the freshness window. AvailableDrivers uses
// the same rule as candidate filtering.
func (e *Engine) Stats(ctx context.Context, freshness time.Duration) (Stats, error) {
	if freshness <= 0 {
		return Stats{}, newError(KindInvalidInput, fmt.Sprintf("freshness window must be positive, got %s", freshness), nil)
	}
	all, err := e.drivers.ListDrivers(ctx)
	if err != nil {
		return Stats{}, newError(KindStorageFailure, "list drivers", err)
	}
	occupied, err := e.trips.OccupiedDrivers(ctx)
	if err != nil {
		return Stats{}, newError(KindStorageFailure, "list occupied drivers", err)
	}
	ids := make([]string, len(all))
	for i, d := range all {
		ids[i] = d.ID
	}
	locs, err := e.locations.Locations(ctx, ids)
	if err != nil {
		return Stats{}, newError(KindStorageFailure, "read driver locations", err)
	}

	now := e.now()
	st := Stats{TotalDrivers: len(all), OccupiedDrivers: len(occupied), FreshnessMinutes: freshness.Minutes()}
	for _, d := range all {
		active := d.Availability == models.DriverActive
		if active {
			st.ActiveDrivers++
		}
		loc, ok := locs[d.ID]
		fresh := ok && Fresh(loc.UpdatedAt, now, freshness)
		if fresh {
			st.WithRecentLocation++
		}
		if _, busy := occupied[d.ID]; active && fresh && !busy {
			st.AvailableDrivers++
		}
	}
	return st, nil
}

func (e *Engine) notify(ctx context.Context, ev models.TripEvent) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Warn("event delivery failed", "trip_id", ev.TripID, "type", ev.Type, "error", err)
	}
}

func reasonOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return err.Error()
}
