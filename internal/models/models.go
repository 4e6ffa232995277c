package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripPending    TripStatus = "pending"
	TripAccepted   TripStatus = "accepted"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// OccupyingStatuses lists the statuses that keep a driver busy. Occupancy is
// always derived from these, never stored on the driver.
var OccupyingStatuses = []TripStatus{TripAccepted, TripInProgress}

// Occupies reports whether a trip in this status occupies its driver.
func (s TripStatus) Occupies() bool {
	for _, o := range OccupyingStatuses {
		if s == o {
			return true
		}
	}
	return false
}

func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// Cancellable reports whether an allocation in this status can be released.
func (s TripStatus) Cancellable() bool {
	return s == TripAccepted || s == TripInProgress
}

// HasDriver reports whether a trip in this status must carry a driver.
func (s TripStatus) HasDriver() bool {
	return s == TripAccepted || s == TripInProgress || s == TripCompleted
}

func (s TripStatus) Valid() bool {
	switch s {
	case TripPending, TripAccepted, TripInProgress, TripCompleted, TripCancelled:
		return true
	}
	return false
}

type Trip struct {
	ID                 string     `json:"id"`
	RiderID            string     `json:"rider_id"`
	Pickup             *Coord     `json:"pickup,omitempty"`
	Dropoff            *Coord     `json:"dropoff,omitempty"`
	Status             TripStatus `json:"status"`
	DriverID           *string    `json:"driver_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	AssignedAt         *time.Time `json:"assigned_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
}

// Unassigned reports whether the trip can still be allocated.
func (t *Trip) Unassigned() bool {
	return t.Status == TripPending && t.DriverID == nil
}

// Consistent checks that a driver reference is present iff the status
// requires one.
func (t *Trip) Consistent() bool {
	return (t.DriverID != nil) == t.Status.HasDriver()
}

type Availability string

const (
	DriverActive   Availability = "active"
	DriverInactive Availability = "inactive"
)

func (a Availability) Valid() bool {
	return a == DriverActive || a == DriverInactive
}

type Driver struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Availability Availability `json:"availability"`
}

// DriverLocation is the most recent position reported by a driver. It is
// overwritten on every ping.
type DriverLocation struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l DriverLocation) Coord() Coord {
	return Coord{Lat: l.Lat, Lng: l.Lng}
}

// LocationPing is the wire form of a driver location update, as received over
// HTTP or Kafka.
type LocationPing struct {
	DriverID     string       `json:"driver_id"`
	Lat          float64      `json:"lat"`
	Lng          float64      `json:"lng"`
	Availability Availability `json:"availability,omitempty"`
	SentAt       time.Time    `json:"sent_at,omitempty"`
}

type EventType string

const (
	EventTripAssigned  EventType = "trip_assigned"
	EventTripCancelled EventType = "trip_cancelled"
)

// TripEvent announces an allocation outcome to drivers and downstream
// consumers.
type TripEvent struct {
	Type       EventType `json:"type"`
	TripID     string    `json:"trip_id"`
	DriverID   string    `json:"driver_id"`
	DistanceKm float64   `json:"distance_km,omitempty"`
	ETAMinutes int       `json:"eta_minutes,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}
