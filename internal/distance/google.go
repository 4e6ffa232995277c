package distance

import (
	"context"
	"fmt"
	"strconv"

	"googlemaps.github.io/maps"

	"github.com/example/trip-allocation/internal/models"
)

// GoogleProvider asks the Google Distance Matrix API for a single
// origin/destination element.
type GoogleProvider struct {
	client *maps.Client
}

// NewGoogleProvider builds a provider from an API key. Extra options (base URL,
// HTTP client) are passed through to the maps client.
func NewGoogleProvider(apiKey string, opts ...maps.ClientOption) (*GoogleProvider, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func googleMode(m Mode) maps.Mode {
	switch m {
	case ModeWalking:
		return maps.TravelModeWalking
	case ModeBicycling:
		return maps.TravelModeBicycling
	default:
		return maps.TravelModeDriving
	}
}

func latLng(c models.Coord) string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lng, 'f', 6, 64)
}

func (g *GoogleProvider) Route(ctx context.Context, from, to models.Coord, mode Mode) (Route, error) {
	resp, err := g.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{latLng(from)},
		Destinations: []string{latLng(to)},
		Mode:         googleMode(mode),
		Units:        maps.UnitsMetric,
	})
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return Route{}, ErrNoRoute
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return Route{}, fmt.Errorf("%w: element status %s", ErrNoRoute, el.Status)
	}
	return Route{
		DistanceKm:  float64(el.Distance.Meters) / 1000,
		DurationMin: el.Duration.Minutes(),
	}, nil
}
