package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/trip-allocation/internal/allocation"
	"github.com/example/trip-allocation/internal/batch"
	"github.com/example/trip-allocation/internal/distance"
)

// AllocatorConfig holds the allocation tunables. Defaults are overlaid by the
// YAML file named in ALLOCATOR_CONFIG_FILE, then by environment variables.
type AllocatorConfig struct {
	MaxRadiusKm       float64       `yaml:"max_radius_km"`
	LocationFreshness time.Duration `yaml:"location_freshness"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	ErrorBackoff    time.Duration `yaml:"error_backoff"`
	StaleTripAge    time.Duration `yaml:"stale_trip_age"`
	TripTimeout     time.Duration `yaml:"trip_timeout"`
	MaxTrips        int           `yaml:"max_trips"`
	ConflictRetries int           `yaml:"conflict_retries"`

	ETAMinutesPerKm float64 `yaml:"eta_minutes_per_km"`
	ETAMinMinutes   int     `yaml:"eta_min_minutes"`

	DistanceProvider   string        `yaml:"distance_provider"`
	OSRMEndpoint       string        `yaml:"osrm_endpoint"`
	GoogleMapsAPIKey   string        `yaml:"google_maps_api_key"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout"`
	TravelMode         string        `yaml:"travel_mode"`
	FallbackSpeedKmh   float64       `yaml:"fallback_speed_kmh"`
	DistanceCacheTTL   time.Duration `yaml:"distance_cache_ttl"`
	ScoringConcurrency int           `yaml:"scoring_concurrency"`
}

// DefaultAllocatorConfig documents every default. The 5 minute freshness
// window assumes drivers ping at least once a minute.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		MaxRadiusKm:        10,
		LocationFreshness:  5 * time.Minute,
		PollInterval:       10 * time.Second,
		ErrorBackoff:       30 * time.Second,
		StaleTripAge:       30 * time.Minute,
		TripTimeout:        15 * time.Second,
		MaxTrips:           50,
		ConflictRetries:    1,
		ETAMinutesPerKm:    2,
		ETAMinMinutes:      5,
		DistanceProvider:   "haversine",
		ProviderTimeout:    2 * time.Second,
		TravelMode:         string(distance.ModeDriving),
		FallbackSpeedKmh:   30,
		DistanceCacheTTL:   30 * time.Second,
		ScoringConcurrency: 8,
	}
}

func LoadAllocatorConfig() (AllocatorConfig, error) {
	return LoadAllocatorConfigFrom(os.Getenv("ALLOCATOR_CONFIG_FILE"))
}

// LoadAllocatorConfigFrom is LoadAllocatorConfig with an explicit YAML path.
// An empty path skips the file.
func LoadAllocatorConfigFrom(path string) (AllocatorConfig, error) {
	cfg := DefaultAllocatorConfig()
	var errs []error

	if path = strings.TrimSpace(path); path != "" {
		if err := overlayYAML(&cfg, path); err != nil {
			errs = append(errs, err)
		}
	}

	setFloatFromEnv(&cfg.MaxRadiusKm, "MAX_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.LocationFreshness, "LOCATION_FRESHNESS", &errs)
	setDurationFromEnv(&cfg.PollInterval, "BATCH_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.ErrorBackoff, "BATCH_ERROR_BACKOFF", &errs)
	setDurationFromEnv(&cfg.StaleTripAge, "STALE_TRIP_AGE", &errs)
	setDurationFromEnv(&cfg.TripTimeout, "TRIP_ALLOCATION_TIMEOUT", &errs)
	setIntFromEnv(&cfg.MaxTrips, "BATCH_MAX_TRIPS", &errs)
	setIntFromEnv(&cfg.ConflictRetries, "BATCH_CONFLICT_RETRIES", &errs)
	setFloatFromEnv(&cfg.ETAMinutesPerKm, "ETA_MINUTES_PER_KM", &errs)
	setIntFromEnv(&cfg.ETAMinMinutes, "ETA_MIN_MINUTES", &errs)

	setStringFromEnv(&cfg.DistanceProvider, "DISTANCE_PROVIDER")
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setStringFromEnv(&cfg.GoogleMapsAPIKey, "GOOGLE_MAPS_API_KEY")
	setDurationFromEnv(&cfg.ProviderTimeout, "DISTANCE_PROVIDER_TIMEOUT", &errs)
	setStringFromEnv(&cfg.TravelMode, "DISTANCE_TRAVEL_MODE")
	setFloatFromEnv(&cfg.FallbackSpeedKmh, "FALLBACK_SPEED_KMH", &errs)
	setDurationFromEnv(&cfg.DistanceCacheTTL, "DISTANCE_CACHE_TTL", &errs)
	setIntFromEnv(&cfg.ScoringConcurrency, "SCORING_CONCURRENCY", &errs)

	cfg.DistanceProvider = strings.ToLower(cfg.DistanceProvider)
	cfg.TravelMode = strings.ToLower(cfg.TravelMode)
	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func overlayYAML(cfg *AllocatorConfig, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read allocator config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c AllocatorConfig) validate() []error {
	var errs []error
	if c.MaxRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RADIUS_KM must be > 0"))
	}
	if c.LocationFreshness <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_FRESHNESS must be > 0"))
	}
	if c.PollInterval <= 0 || c.ErrorBackoff <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_POLL_INTERVAL and BATCH_ERROR_BACKOFF must be > 0"))
	}
	if c.MaxTrips <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_MAX_TRIPS must be > 0"))
	}
	if c.ConflictRetries < 0 {
		errs = append(errs, fmt.Errorf("BATCH_CONFLICT_RETRIES must be >= 0"))
	}
	if c.ETAMinutesPerKm <= 0 || c.ETAMinMinutes < 0 {
		errs = append(errs, fmt.Errorf("ETA_MINUTES_PER_KM must be > 0 and ETA_MIN_MINUTES >= 0"))
	}
	if c.ScoringConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("SCORING_CONCURRENCY must be > 0"))
	}
	switch c.DistanceProvider {
	case "", "haversine":
	case "osrm":
		if c.OSRMEndpoint == "" {
			errs = append(errs, fmt.Errorf("DISTANCE_PROVIDER=osrm requires OSRM_ENDPOINT"))
		}
	case "google":
		if c.GoogleMapsAPIKey == "" {
			errs = append(errs, fmt.Errorf("DISTANCE_PROVIDER=google requires GOOGLE_MAPS_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DISTANCE_PROVIDER %q", c.DistanceProvider))
	}
	switch distance.Mode(c.TravelMode) {
	case distance.ModeDriving, distance.ModeWalking, distance.ModeBicycling:
	default:
		errs = append(errs, fmt.Errorf("unknown DISTANCE_TRAVEL_MODE %q", c.TravelMode))
	}
	return errs
}

// Params returns the per-call allocation parameters.
func (c AllocatorConfig) Params() allocation.Params {
	return allocation.Params{MaxRadiusKm: c.MaxRadiusKm, Freshness: c.LocationFreshness}
}

func (c AllocatorConfig) ETAPolicy() allocation.ETAPolicy {
	return allocation.ETAPolicy{MinutesPerKm: c.ETAMinutesPerKm, MinMinutes: c.ETAMinMinutes}
}

func (c AllocatorConfig) Batch() batch.Config {
	return batch.Config{
		Params:          c.Params(),
		PollInterval:    c.PollInterval,
		ErrorBackoff:    c.ErrorBackoff,
		StaleAfter:      c.StaleTripAge,
		TripTimeout:     c.TripTimeout,
		MaxTrips:        c.MaxTrips,
		ConflictRetries: c.ConflictRetries,
	}
}

func (c AllocatorConfig) Distance() distance.Options {
	return distance.Options{
		Provider:         c.DistanceProvider,
		OSRMEndpoint:     c.OSRMEndpoint,
		GoogleAPIKey:     c.GoogleMapsAPIKey,
		Mode:             distance.Mode(c.TravelMode),
		Timeout:          c.ProviderTimeout,
		FallbackSpeedKmh: c.FallbackSpeedKmh,
		CacheTTL:         c.DistanceCacheTTL,
	}
}
