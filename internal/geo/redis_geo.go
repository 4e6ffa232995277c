package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-allocation/internal/models"
)

// RedisGeo keeps each driver's latest location in one hash per driver.
type RedisGeo struct {
	client *redis.Client
	prefix string
}

func NewRedisGeo(client *redis.Client, prefix string) *RedisGeo {
	if prefix == "" {
		prefix = "driver:loc:"
	}
	return &RedisGeo{client: client, prefix: prefix}
}

func (r *RedisGeo) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if err := Validate(loc.Coord()); err != nil {
		return err
	}
	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = time.Now()
	}
	return r.client.HSet(ctx, r.key(loc.DriverID), map[string]interface{}{
		"lat":     strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		"lng":     strconv.FormatFloat(loc.Lng, 'f', -1, 64),
		"updated": loc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}).Err()
}

func (r *RedisGeo) Locations(ctx context.Context, ids []string) (map[string]models.DriverLocation, error) {
	out := make(map[string]models.DriverLocation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for i, cmd := range cmds {
		m, err := cmd.Result()
		if err != nil || len(m) == 0 {
			continue
		}
		loc, err := parseLocation(ids[i], m)
		if err != nil {
			return nil, err
		}
		out[ids[i]] = loc
	}
	return out, nil
}

func (r *RedisGeo) key(id string) string { return r.prefix + id }

func parseLocation(id string, m map[string]string) (models.DriverLocation, error) {
	lat, err := strconv.ParseFloat(m["lat"], 64)
	if err != nil {
		return models.DriverLocation{}, fmt.Errorf("driver %s lat: %w", id, err)
	}
	lng, err := strconv.ParseFloat(m["lng"], 64)
	if err != nil {
		return models.DriverLocation{}, fmt.Errorf("driver %s lng: %w", id, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, m["updated"])
	if err != nil {
		return models.DriverLocation{}, fmt.Errorf("driver %s updated: %w", id, err)
	}
	return models.DriverLocation{DriverID: id, Lat: lat, Lng: lng, UpdatedAt: updated}, nil
}
