package distance

import (
	"fmt"
	"log/slog"
	"time"
)

// Options select and tune the estimator chain.
type Options struct {
	Provider         string // haversine, osrm or google
	OSRMEndpoint     string
	GoogleAPIKey     string
	Mode             Mode
	Timeout          time.Duration
	FallbackSpeedKmh float64
	CacheTTL         time.Duration
}

// New returns a Geometric estimator when no road provider is configured, and a
// Road estimator falling back to Geometric otherwise.
func New(opts Options, logger *slog.Logger) (Estimator, error) {
	fallback := Geometric{SpeedKmh: opts.FallbackSpeedKmh}
	var p Provider
	switch opts.Provider {
	case "", "haversine":
		return fallback, nil
	case "osrm":
		if opts.OSRMEndpoint == "" {
			return nil, fmt.Errorf("osrm provider requires an endpoint")
		}
		p = NewOSRMProvider(opts.OSRMEndpoint)
	case "google":
		if opts.GoogleAPIKey == "" {
			return nil, fmt.Errorf("google provider requires an api key")
		}
		gp, err := NewGoogleProvider(opts.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		p = gp
	default:
		return nil, fmt.Errorf("unknown distance provider %q", opts.Provider)
	}
	if opts.CacheTTL > 0 {
		p = &CachedProvider{Provider: p, Cache: NewCache(opts.CacheTTL)}
	}
	return NewRoad(p, fallback, opts.Mode, opts.Timeout, logger), nil
}
