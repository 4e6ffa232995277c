package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/models"
	"github.com/example/trip-allocation/internal/storage"
)

// ErrInvalidPing marks pings rejected before anything is stored.
var ErrInvalidPing = errors.New("invalid location ping")

// AvailabilitySetter is the part of storage.DriverStore a ping may touch.
type AvailabilitySetter interface {
	SetAvailability(ctx context.Context, id string, a models.Availability) error
}

// ToLocation validates a ping and converts it to the stored form. The ping's
// send time is used when it is set and not in the future; otherwise the
// receive time is.
func ToLocation(p models.LocationPing, now time.Time) (models.DriverLocation, error) {
	if p.DriverID == "" {
		return models.DriverLocation{}, fmt.Errorf("%w: driver id is required", ErrInvalidPing)
	}
	if err := geo.Validate(models.Coord{Lat: p.Lat, Lng: p.Lng}); err != nil {
		return models.DriverLocation{}, fmt.Errorf("%w: %w", ErrInvalidPing, err)
	}
	if p.Availability != "" && !p.Availability.Valid() {
		return models.DriverLocation{}, fmt.Errorf("%w: availability %q", ErrInvalidPing, p.Availability)
	}
	at := now
	if !p.SentAt.IsZero() && !p.SentAt.After(now) {
		at = p.SentAt
	}
	return models.DriverLocation{DriverID: p.DriverID, Lat: p.Lat, Lng: p.Lng, UpdatedAt: at}, nil
}

// ApplyPing stores the ping's location, then its availability if one was
// reported. drivers may be nil.
func ApplyPing(ctx context.Context, p models.LocationPing, locations storage.LocationStore, drivers AvailabilitySetter, now time.Time) error {
	loc, err := ToLocation(p, now)
	if err != nil {
		return err
	}
	if err := locations.Upsert(ctx, loc); err != nil {
		return err
	}
	if p.Availability != "" && drivers != nil {
		return drivers.SetAvailability(ctx, p.DriverID, p.Availability)
	}
	return nil
}
