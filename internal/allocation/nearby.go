package allocation

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/trip-allocation/internal/geo"
	"github.com/example/trip-allocation/internal/models"
)

// NearbyDriver is an eligible driver as seen from a point.
type NearbyDriver struct {
	DriverID   string  `json:"driver_id"`
	DistanceKm float64 `json:"distance_km"`
	ETAMinutes int     `json:"eta_minutes"`
}

// Nearby lists up to limit eligible drivers within p.MaxRadiusKm of at,
// nearest first, using straight-line distance. It applies the same filter as
// Allocate but commits nothing, so the answer can be stale by the time a
// trip is allocated.
func (e *Engine) Nearby(ctx context.Context, at models.Coord, p Params, limit int) ([]NearbyDriver, error) {
	if err := geo.Validate(at); err != nil {
		return nil, newError(KindInvalidInput, "point is not a valid coordinate", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, newError(KindInvalidInput, fmt.Sprintf("limit must be positive, got %d", limit), nil)
	}
	cands, err := e.filter.Eligible(ctx, p.Freshness)
	if err != nil {
		return nil, classify(err, "filter candidates")
	}
	out := make([]NearbyDriver, 0, len(cands))
	for _, c := range cands {
		km := geo.Distance(c.Location.Coord(), at)
		if km > p.MaxRadiusKm {
			continue
		}
		out = append(out, NearbyDriver{DriverID: c.Driver.ID, DistanceKm: km, ETAMinutes: e.eta.Minutes(km)})
	}
	// stable keeps id order on equal distances
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
