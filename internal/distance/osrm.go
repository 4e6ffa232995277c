package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/trip-allocation/internal/models"
)

type Mode string

const (
	ModeDriving   Mode = "driving"
	ModeWalking   Mode = "walking"
	ModeBicycling Mode = "bicycling"
)

// Route is a provider's answer for one origin/destination pair.
type Route struct {
	DistanceKm  float64
	DurationMin float64
}

// Provider is a road-network distance source. Any error means the provider
// could not answer for this pair.
type Provider interface {
	Route(ctx context.Context, from, to models.Coord, mode Mode) (Route, error)
}

// OSRMProvider performs route lookups against an OSRM HTTP server.
type OSRMProvider struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMProvider(endpoint string) *OSRMProvider {
	return &OSRMProvider{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: 2 * time.Second}}
}

func osrmProfile(m Mode) string {
	switch m {
	case ModeWalking:
		return "foot"
	case ModeBicycling:
		return "bike"
	default:
		return "driving"
	}
}

func (o *OSRMProvider) Route(ctx context.Context, from, to models.Coord, mode Mode) (Route, error) {
	// OSRM route query: /route/v1/{profile}/{lon1},{lat1};{lon2},{lat2}?overview=false
	url := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=false", o.Endpoint, osrmProfile(mode), from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Route{}, fmt.Errorf("%w: osrm %d", ErrProviderStatus, resp.StatusCode)
	}
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("%w: osrm code %q", ErrNoRoute, out.Code)
	}
	return Route{DistanceKm: out.Routes[0].Distance / 1000, DurationMin: out.Routes[0].Duration / 60}, nil
}
