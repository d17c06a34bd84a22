package geo

import (
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(models.Coord{}, models.Coord{})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is ~111.2km
	a := models.Coord{Lat: 0, Lon: 0}
	b := models.Coord{Lat: 1, Lon: 0}
	d := Haversine(a, b)
	if d < 110000 || d > 112500 {
		t.Fatalf("expected ~111km, got %f", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := models.Coord{Lat: 12.97, Lon: 77.59}
	b := models.Coord{Lat: 12.93, Lon: 77.62}
	if Haversine(a, b) != Haversine(b, a) {
		t.Fatal("distance should be symmetric")
	}
}
