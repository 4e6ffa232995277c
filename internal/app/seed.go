package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/storage"
)

type Seeder interface {
	UpsertDriver(ctx context.Context, d models.Driver) error
	SaveTrip(ctx context.Context, t models.Trip) error
}

// SeedFile is a YAML fixture of drivers and pending trips for local runs
// against the in-memory store.
type SeedFile struct {
	Drivers []SeedDriver `yaml:"drivers"`
	Trips   []SeedTrip   `yaml:"trips"`
}

type SeedDriver struct {
	ID           string   `yaml:"id"`
	Availability string   `yaml:"availability"`
	Lat          *float64 `yaml:"lat"`
	Lng          *float64 `yaml:"lng"`
}

type SeedTrip struct {
	ID        string  `yaml:"id"`
	RiderID   string  `yaml:"rider_id"`
	PickupLat float64 `yaml:"pickup_lat"`
	PickupLng float64 `yaml:"pickup_lng"`
}

func ReadSeedFile(path string) (SeedFile, error) {
	var s SeedFile
	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read seed file: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// Apply writes the fixture. Drivers with coordinates get a location stamped
// now; trips are created pending.
func (s SeedFile) Apply(ctx context.Context, store Seeder, locations storage.LocationStore, now time.Time) error {
	for _, d := range s.Drivers {
		av := models.Availability(d.Availability)
		if av == "" {
			av = models.DriverActive
		}
		if err := store.UpsertDriver(ctx, models.Driver{ID: d.ID, Availability: av}); err != nil {
			return fmt.Errorf("driver %s: %w", d.ID, err)
		}
		if d.Lat == nil || d.Lng == nil {
			continue
		}
		loc := models.DriverLocation{DriverID: d.ID, Lat: *d.Lat, Lng: *d.Lng, UpdatedAt: now}
		if err := locations.Upsert(ctx, loc); err != nil {
			return fmt.Errorf("driver %s location: %w", d.ID, err)
		}
	}
	for _, t := range s.Trips {
		pickup := models.Coord{Lat: t.PickupLat, Lng: t.PickupLng}
		if err := geo.Validate(pickup); err != nil {
			return fmt.Errorf("trip %s pickup: %w", t.ID, err)
		}
		trip := models.Trip{ID: t.ID, RiderID: t.RiderID, Pickup: &pickup, Status: models.TripPending, CreatedAt: now}
		if err := store.SaveTrip(ctx, trip); err != nil {
			return fmt.Errorf("trip %s: %w", t.ID, err)
		}
	}
	return nil
}
