package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/example/trip-allocation/internal/models"
)

// EarthRadiusKm is the sphere radius used for great-circle distances.
const EarthRadiusKm = 6371.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Validate rejects non-finite values and values outside [-90,90]/[-180,180].
func Validate(c models.Coord) error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, c.Lat)
	}
	if math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, c.Lng)
	}
	return nil
}

// HaversineKm returns the great-circle distance in kilometers between two
// points given in decimal degrees.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push a slightly above 1 for antipodal points
	a = math.Min(1, a)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// Distance is HaversineKm over two coordinates.
func Distance(a, b models.Coord) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Index is an in-memory driver location store, used when no Redis is
// configured and in tests.
type Index struct {
	mu        sync.RWMutex
	locations map[string]models.DriverLocation
}

func NewIndex() *Index {
	return &Index{locations: make(map[string]models.DriverLocation)}
}

func (g *Index) Upsert(_ context.Context, loc models.DriverLocation) error {
	if err := Validate(loc.Coord()); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locations[loc.DriverID] = loc
	return nil
}

// Locations returns the known locations for ids. Drivers without a location
// are absent from the result.
func (g *Index) Locations(_ context.Context, ids []string) (map[string]models.DriverLocation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]models.DriverLocation, len(ids))
	for _, id := range ids {
		if loc, ok := g.locations[id]; ok {
			out[id] = loc
		}
	}
	return out, nil
}
