package geo

import (
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

// DistanceFunc measures the distance in meters between two points. The
// matching engine takes it as a parameter so a road-network metric can be
// swapped in without touching ranking logic.
type DistanceFunc func(a, b models.Coord) float64

// Haversine is the default great-circle distance in meters.
func Haversine(a, b models.Coord) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}
