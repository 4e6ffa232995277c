package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/storage"
)

// Candidate is a driver that passed availability, occupancy and freshness
// filtering, together with the location it will be scored from.
type Candidate struct {
	Driver   models.Driver
	Location models.DriverLocation
}

// Filter produces the drivers eligible for assignment. Every call reads live
// state from the stores; nothing is cached between calls.
type Filter struct {
	Drivers   storage.DriverStore
	Trips     storage.TripStore
	Locations storage.LocationStore
	Now       func() time.Time
}

// Fresh reports whether a location last updated at updatedAt is still within
// the freshness window. A location exactly freshness old is fresh.
func Fresh(updatedAt, now time.Time, freshness time.Duration) bool {
	return !updatedAt.Before(now.Add(-freshness))
}

// Eligible returns active, unoccupied drivers with a fresh location, sorted
// by driver id. An empty result is not an error.
func (f *Filter) Eligible(ctx context.Context, freshness time.Duration) ([]Candidate, error) {
	if freshness <= 0 {
		return nil, newError(KindInvalidInput, fmt.Sprintf("freshness window must be positive, got %s", freshness), nil)
	}
	active, err := f.Drivers.ActiveDrivers(ctx)
	if err != nil {
		return nil, newError(KindStorageFailure, "list active drivers", err)
	}
	if len(active) == 0 {
		return nil, nil
	}
	occupied, err := f.Trips.OccupiedDrivers(ctx)
	if err != nil {
		return nil, newError(KindStorageFailure, "list occupied drivers", err)
	}
	free := make([]models.Driver, 0, len(active))
	ids := make([]string, 0, len(active))
	for _, d := range active {
		if _, busy := occupied[d.ID]; busy {
			continue
		}
		free = append(free, d)
		ids = append(ids, d.ID)
	}
	if len(free) == 0 {
		return nil, nil
	}
	locs, err := f.Locations.Locations(ctx, ids)
	if err != nil {
		return nil, newError(KindStorageFailure, "read driver locations", err)
	}
	now := f.now()
	out := make([]Candidate, 0, len(free))
	for _, d := range free {
		loc, ok := locs[d.ID]
		if !ok || !Fresh(loc.UpdatedAt, now, freshness) {
			continue
		}
		out = append(out, Candidate{Driver: d, Location: loc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Driver.ID < out[j].Driver.ID })
	return out, nil
}

func (f *Filter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
