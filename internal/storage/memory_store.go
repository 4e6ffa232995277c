package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/trip-allocation/internal/models"
)

// MemoryStore keeps trips and drivers in process. One mutex guards both maps,
// so the commit check and write happen under the same lock.
type MemoryStore struct {
	mu      sync.RWMutex
	trips   map[string]*models.Trip
	drivers map[string]models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:   make(map[string]*models.Trip),
		drivers: make(map[string]models.Driver),
	}
}

// SaveTrip inserts or replaces a trip. Trip creation belongs to the booking
// flow; this is how that flow (and tests) seed the store.
func (m *MemoryStore) SaveTrip(_ context.Context, t models.Trip) error {
	if t.ID == "" {
		return fmt.Errorf("trip id is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid trip status %q", t.Status)
	}
	if !t.Consistent() {
		return fmt.Errorf("trip %s: driver reference does not match status %s", t.ID, t.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copyTrip(t)
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTrip(_ context.Context, id string) (models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return models.Trip{}, ErrNotFound
	}
	return copyTrip(*t), nil
}

func (m *MemoryStore) ListPending(_ context.Context, createdAfter time.Time, limit int) ([]models.Trip, error) {
	m.mu.RLock()
	out := make([]models.Trip, 0)
	for _, t := range m.trips {
		if t.Unassigned() && !t.CreatedAt.Before(createdAfter) {
			out = append(out, copyTrip(*t))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) OccupiedDrivers(_ context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.occupiedLocked(), nil
}

func (m *MemoryStore) occupiedLocked() map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range m.trips {
		if t.Status.Occupies() && t.DriverID != nil {
			out[*t.DriverID] = struct{}{}
		}
	}
	return out
}

func (m *MemoryStore) CommitAssignment(_ context.Context, tripID, driverID string, at time.Time) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return models.Trip{}, ErrNotFound
	}
	if !t.Unassigned() {
		return models.Trip{}, ErrTripNotPending
	}
	if d, ok := m.drivers[driverID]; !ok || d.Availability != models.DriverActive {
		return models.Trip{}, ErrDriverOccupied
	}
	if _, busy := m.occupiedLocked()[driverID]; busy {
		return models.Trip{}, ErrDriverOccupied
	}
	id := driverID
	assigned := at
	t.Status = models.TripAccepted
	t.DriverID = &id
	t.AssignedAt = &assigned
	return copyTrip(*t), nil
}

func (m *MemoryStore) CancelAssignment(_ context.Context, tripID, reason string, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return "", ErrNotFound
	}
	if !t.Status.Cancellable() || t.DriverID == nil {
		return "", ErrNotCancellable
	}
	released := *t.DriverID
	cancelled := at
	t.Status = models.TripCancelled
	t.DriverID = nil
	t.CancelledAt = &cancelled
	t.CancellationReason = reason
	return released, nil
}

// UpsertDriver registers a driver or replaces its record.
func (m *MemoryStore) UpsertDriver(_ context.Context, d models.Driver) error {
	if d.ID == "" {
		return fmt.Errorf("driver id is required")
	}
	if !d.Availability.Valid() {
		return fmt.Errorf("invalid availability %q", d.Availability)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryStore) ListDrivers(_ context.Context) ([]models.Driver, error) {
	return m.listDrivers(func(models.Driver) bool { return true }), nil
}

func (m *MemoryStore) ActiveDrivers(_ context.Context) ([]models.Driver, error) {
	return m.listDrivers(func(d models.Driver) bool { return d.Availability == models.DriverActive }), nil
}

func (m *MemoryStore) listDrivers(keep func(models.Driver) bool) []models.Driver {
	m.mu.RLock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if keep(d) {
			out = append(out, d)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) SetAvailability(_ context.Context, id string, a models.Availability) error {
	if !a.Valid() {
		return fmt.Errorf("invalid availability %q", a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.Availability = a
	m.drivers[id] = d
	return nil
}

func copyTrip(t models.Trip) models.Trip {
	if t.Pickup != nil {
		c := *t.Pickup
		t.Pickup = &c
	}
	if t.Dropoff != nil {
		c := *t.Dropoff
		t.Dropoff = &c
	}
	if t.DriverID != nil {
		id := *t.DriverID
		t.DriverID = &id
	}
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		t.AssignedAt = &at
	}
	if t.CancelledAt != nil {
		at := *t.CancelledAt
		t.CancelledAt = &at
	}
	return t
}
