package availability

import (
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/clock"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newGrid(clk clock.Clock) *Grid {
	return NewGrid(geo.Haversine, clk, 30*time.Second)
}

func hb(id string, lat, lon float64, at time.Time) models.Heartbeat {
	return models.Heartbeat{DriverID: id, Loc: models.Coord{Lat: lat, Lon: lon}, Online: true, Capacity: 4, SentAt: at}
}

func TestQueryOrdersByDistance(t *testing.T) {
	clk := clock.NewFake(t0)
	g := newGrid(clk)
	g.UpsertHeartbeat(hb("far", 0.02, 0, t0))
	g.UpsertHeartbeat(hb("near", 0.001, 0, t0))

	got := g.QueryCandidates(models.Coord{}, 5000, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].DriverID != "near" || got[1].DriverID != "far" {
		t.Fatalf("wrong order: %s, %s", got[0].DriverID, got[1].DriverID)
	}
}

func TestQueryTieBreakFavorsLongestIdle(t *testing.T) {
	clk := clock.NewFake(t0)
	g := newGrid(clk)
	// same position, different first-heartbeat times
	g.UpsertHeartbeat(hb("veteran", 0.001, 0.001, t0.Add(-10*time.Second)))
	g.UpsertHeartbeat(hb("rookie", 0.001, 0.001, t0))
	// refresh veteran so both are fresh; FreedSince keeps the older stamp
	g.UpsertHeartbeat(hb("veteran", 0.001, 0.001, t0))

	got := g.QueryCandidates(models.Coord{}, 5000, 10)
	if len(got) != 2 || got[0].DriverID != "veteran" {
		t.Fatalf("expected veteran first, got %+v", got)
	}
}

func TestOutOfOrderHeartbeatDropped(t *testing.T) {
	clk := clock.NewFake(t0)
	g := newGrid(clk)
	g.UpsertHeartbeat(hb("d1", 1, 1, t0))
	// stale position delivered late
	g.UpsertHeartbeat(hb("d1", 9, 9, t0.Add(-time.Minute)))

	rec, ok := g.Snapshot("d1")
	if !ok {
		t.Fatal("driver missing")
	}
	if rec.Loc.Lat != 1 || rec.Loc.Lon != 1 {
		t.Fatalf("older heartbeat overwrote newer position: %+v", rec.Loc)
	}
}

func TestAssignedDriverNeverCandidate(t *testing.T) {
	clk := clock.NewFake(t0)
	g := newGrid(clk)
	g.UpsertHeartbeat(hb("d1", 0.001, 0, t0))
	g.MarkAssigned("d1", "ride-1")

	if got := g.QueryCandidates(models.Coord{}, 5000, 10); len(got) != 0 {
		t.Fatalf("assigned driver returned as candidate: %+v", got)
	}

	g.MarkFreed("d1")
	if got := g.QueryCandidates(models.Coord{}, 5000, 10); len(got) != 1 {
		t.Fatalf("freed driver should be a candidate again, got %d", len(got))
	}
}

func TestStaleDriverExcludedWithoutOfflineEvent(t *testing.T) {
	clk := clock.NewFake(t0)
	g := newGrid(clk)
	g.UpsertHeartbeat(hb("d1", 0.001, 0, t0))

	clk.Advance(31 * time.Second)
	if got := g.QueryCandidates(models.Coord{}, 5000, 10); len(got) != 0 {
		t.Fatalf("stale driver returned as candidate: %+v", got)
	}
}

func TestSweepEvictsStaleKeepsAssigned(t *testing.T) {
	clk := clock.NewFake(t0)
	g := newGrid(clk)
	g.UpsertHeartbeat(hb("idle", 0.001, 0, t0))
	g.UpsertHeartbeat(hb("busy", 0.002, 0, t0))
	g.MarkAssigned("busy", "ride-1")

	clk.Advance(time.Minute)
	if n := g.Sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, ok := g.Snapshot("idle"); ok {
		t.Fatal("idle stale driver should be evicted")
	}
	if _, ok := g.Snapshot("busy"); !ok {
		t.Fatal("driver holding a ride must never be evicted")
	}
}

func TestOfflineHeartbeatExcludes(t *testing.T) {
	clk := clock.NewFake(t0)
	g := newGrid(clk)
	g.UpsertHeartbeat(hb("d1", 0.001, 0, t0))
	off := hb("d1", 0.001, 0, t0.Add(time.Second))
	off.Online = false
	g.UpsertHeartbeat(off)

	if got := g.QueryCandidates(models.Coord{}, 5000, 10); len(got) != 0 {
		t.Fatalf("offline driver returned: %+v", got)
	}
}

func TestQueryRespectsLimitAndRadius(t *testing.T) {
	clk := clock.NewFake(t0)
	g := newGrid(clk)
	g.UpsertHeartbeat(hb("a", 0.001, 0, t0))
	g.UpsertHeartbeat(hb("b", 0.002, 0, t0))
	g.UpsertHeartbeat(hb("c", 0.003, 0, t0))
	g.UpsertHeartbeat(hb("outside", 1.0, 0, t0))

	got := g.QueryCandidates(models.Coord{}, 5000, 2)
	if len(got) != 2 {
		t.Fatalf("limit not honored: %d", len(got))
	}
	for _, rec := range got {
		if rec.DriverID == "outside" {
			t.Fatal("driver outside radius returned")
		}
	}
}
