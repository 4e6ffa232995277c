package distance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/trip-allocation/internal/models"
)

// Cache is a small in-memory cache for provider answers keyed by coords and
// mode. Coordinates are rounded to 6 decimals (about 0.1 m).
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	v  Route
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(a, b models.Coord, m Mode) string {
	return fmtCoord(a) + "->" + fmtCoord(b) + "/" + string(m)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord, m Mode) (Route, bool) {
	k := keyFor(a, b, m)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Route{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Route{}, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, m Mode, v Route) {
	k := keyFor(a, b, m)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}

// CachedProvider serves repeated pairs from Cache. Failures are not cached.
type CachedProvider struct {
	Provider Provider
	Cache    *Cache
}

func (p *CachedProvider) Route(ctx context.Context, from, to models.Coord, mode Mode) (Route, error) {
	if r, ok := p.Cache.Get(from, to, mode); ok {
		return r, nil
	}
	r, err := p.Provider.Route(ctx, from, to, mode)
	if err != nil {
		return Route{}, err
	}
	p.Cache.Set(from, to, mode, r)
	return r, nil
}
