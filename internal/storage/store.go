// Package storage holds the trip, driver and location stores the allocation
// engine reads and conditionally mutates.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/trip-allocation/internal/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrTripNotPending = errors.New("trip is not pending")
	// ErrDriverOccupied means the driver is inactive or already committed to
	// another accepted or in-progress trip.
	ErrDriverOccupied = errors.New("driver is no longer available")
	ErrNotCancellable = errors.New("trip is not in a cancellable state")
)

// TripStore defines persistence operations for trips.
//
// CommitAssignment and CancelAssignment are the only mutations the engine
// performs. Each one checks its preconditions and writes in a single atomic
// step of the underlying store.
type TripStore interface {
	GetTrip(ctx context.Context, id string) (models.Trip, error)
	// ListPending returns unassigned pending trips created at or after
	// createdAfter, oldest first. A zero createdAfter lists every pending trip.
	ListPending(ctx context.Context, createdAfter time.Time, limit int) ([]models.Trip, error)
	// OccupiedDrivers returns the ids of drivers referenced by an accepted or
	// in-progress trip.
	OccupiedDrivers(ctx context.Context) (map[string]struct{}, error)
	// CommitAssignment moves a pending, unassigned trip to accepted with
	// driverID. It fails with ErrTripNotPending when the trip was resolved
	// elsewhere and ErrDriverOccupied when the driver is no longer free.
	CommitAssignment(ctx context.Context, tripID, driverID string, at time.Time) (models.Trip, error)
	// CancelAssignment moves an accepted or in-progress trip to cancelled,
	// clears its driver and records reason. It returns the released driver.
	CancelAssignment(ctx context.Context, tripID, reason string, at time.Time) (string, error)
}

type DriverStore interface {
	ListDrivers(ctx context.Context) ([]models.Driver, error)
	ActiveDrivers(ctx context.Context) ([]models.Driver, error)
	SetAvailability(ctx context.Context, id string, a models.Availability) error
}

// LocationStore keeps the latest known position of every driver.
type LocationStore interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
	Locations(ctx context.Context, ids []string) (map[string]models.DriverLocation, error)
}
