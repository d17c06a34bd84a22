// Package eta estimates trip durations and quotes fares. The naive
// speed-over-haversine model is the default; an OSRM client can replace it
// for road-network durations.
package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Client is anything that can estimate a trip duration.
type Client interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// EstimateSeconds is the naive model: great-circle distance over a flat speed.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	return geo.Haversine(from, to) / speedMps
}

// FareModel quotes base + per-km pricing off the trip distance. Road
// duration, when a Client is wired, adds a time component.
type FareModel struct {
	Base     float64 // flag-fall
	PerKm    float64
	PerMin   float64
	SpeedMps float64
	Road     Client // optional
	Cache    *Cache // optional
}

func (f *FareModel) Estimate(pickup, destination models.Coord) float64 {
	distM := geo.Haversine(pickup, destination)
	seconds := 0.0
	if f.Road != nil {
		if f.Cache != nil {
			if v, ok := f.Cache.Get(pickup, destination); ok {
				seconds = v
			}
		}
		if seconds == 0 {
			if v, err := f.Road.EstimateSeconds(pickup, destination); err == nil {
				seconds = v
				if f.Cache != nil {
					f.Cache.Set(pickup, destination, v)
				}
			}
		}
	}
	if seconds == 0 {
		seconds = EstimateSeconds(pickup, destination, f.SpeedMps)
	}
	return f.Base + f.PerKm*distM/1000 + f.PerMin*seconds/60
}

// Cache is a tiny in-memory TTL cache for duration lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lon, b.Lat, b.Lon)
}

func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
