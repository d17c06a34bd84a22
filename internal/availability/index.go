// Package availability maintains the queryable set of online, unassigned
// drivers. It is rebuilt continuously from the heartbeat stream and mutated
// only by confirmed lifecycle events, never by matching-time guesses.
package availability

import (
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/clock"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Index is what the matching engine and the heartbeat consumer require.
type Index interface {
	UpsertHeartbeat(hb models.Heartbeat)
	MarkAssigned(driverID, rideID string)
	MarkFreed(driverID string)
	// QueryCandidates returns online, unassigned, fresh drivers within
	// radiusM of p, nearest first, longest-idle first on equal distance.
	QueryCandidates(p models.Coord, radiusM float64, limit int) []models.DriverRecord
	Snapshot(driverID string) (models.DriverRecord, bool)
}

// cell is a fixed-size geographic bucket key. ~0.01 degrees of latitude is
// about 1.1km, which keeps a 2km radius query to a handful of buckets.
type cell struct{ row, col int }

const cellSizeDeg = 0.01

func cellFor(c models.Coord) cell {
	return cell{row: int(c.Lat / cellSizeDeg), col: int(c.Lon / cellSizeDeg)}
}

// Grid is the in-memory index: bucket map for the radius scan plus a direct
// driver map for O(1) heartbeat updates.
type Grid struct {
	mu       sync.RWMutex
	records  map[string]*models.DriverRecord
	buckets  map[cell]map[string]struct{}
	distance geo.DistanceFunc
	clk      clock.Clock
	// heartbeats older than this are treated as offline
	staleAfter time.Duration
}

func NewGrid(distance geo.DistanceFunc, clk clock.Clock, staleAfter time.Duration) *Grid {
	return &Grid{
		records:    make(map[string]*models.DriverRecord),
		buckets:    make(map[cell]map[string]struct{}),
		distance:   distance,
		clk:        clk,
		staleAfter: staleAfter,
	}
}

// UpsertHeartbeat applies hb last-write-wins by its SentAt timestamp, so
// duplicated or out-of-order deliveries never roll a driver's position back.
func (g *Grid) UpsertHeartbeat(hb models.Heartbeat) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[hb.DriverID]
	if ok && hb.SentAt.Before(rec.LastSeen) {
		return
	}
	if !ok {
		rec = &models.DriverRecord{DriverID: hb.DriverID, FreedSince: hb.SentAt}
		g.records[hb.DriverID] = rec
	} else {
		g.unbucket(rec)
	}
	rec.Loc = hb.Loc
	rec.Online = hb.Online
	rec.Capacity = hb.Capacity
	rec.LastSeen = hb.SentAt
	g.bucket(rec)
}

// MarkAssigned records that the driver holds rideID. Called exactly once per
// assignment, driven by a confirmed RideAssigned event.
func (g *Grid) MarkAssigned(driverID, rideID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[driverID]
	if !ok {
		rec = &models.DriverRecord{DriverID: driverID, LastSeen: g.clk.Now()}
		g.records[driverID] = rec
		g.bucket(rec)
	}
	rec.RideID = rideID
}

// MarkFreed releases the driver and restarts their idle stretch.
func (g *Grid) MarkFreed(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[driverID]
	if !ok || rec.RideID == "" {
		// unknown or already free: a replayed release changes nothing
		return
	}
	rec.RideID = ""
	rec.FreedSince = g.clk.Now()
}

func (g *Grid) Snapshot(driverID string) (models.DriverRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[driverID]
	if !ok {
		return models.DriverRecord{}, false
	}
	return *rec, true
}

type scoredCandidate struct {
	rec  models.DriverRecord
	dist float64
}

func (g *Grid) QueryCandidates(p models.Coord, radiusM float64, limit int) []models.DriverRecord {
	now := g.clk.Now()
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []scoredCandidate
	for _, c := range cellsWithin(p, radiusM) {
		ids, ok := g.buckets[c]
		if !ok {
			continue
		}
		for id := range ids {
			rec := g.records[id]
			if !g.eligible(rec, now) {
				continue
			}
			d := g.distance(p, rec.Loc)
			if d > radiusM {
				continue
			}
			out = append(out, scoredCandidate{rec: *rec, dist: d})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		// tie-break favors the driver waiting longest
		return out[i].rec.FreedSince.Before(out[j].rec.FreedSince)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	recs := make([]models.DriverRecord, len(out))
	for i, s := range out {
		recs[i] = s.rec
	}
	return recs
}

func (g *Grid) eligible(rec *models.DriverRecord, now time.Time) bool {
	if rec == nil || !rec.Online || rec.Assigned() {
		return false
	}
	return now.Sub(rec.LastSeen) <= g.staleAfter
}

// Sweep evicts drivers whose heartbeat has gone stale, treating them as
// offline without waiting for an explicit offline event. Drivers holding an
// active ride are never evicted.
func (g *Grid) Sweep() int {
	now := g.clk.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	evicted := 0
	for id, rec := range g.records {
		if rec.Assigned() {
			continue
		}
		if now.Sub(rec.LastSeen) > g.staleAfter {
			g.unbucket(rec)
			delete(g.records, id)
			evicted++
		}
	}
	observability.DriversEvicted.Add(float64(evicted))
	return evicted
}

// RunSweeper runs Sweep on a fixed cadence until ctx is done.
func (g *Grid) RunSweeper(done <-chan struct{}, every time.Duration) {
	for {
		select {
		case <-done:
			return
		case <-g.clk.After(every):
			g.Sweep()
		}
	}
}

func (g *Grid) bucket(rec *models.DriverRecord) {
	c := cellFor(rec.Loc)
	ids, ok := g.buckets[c]
	if !ok {
		ids = make(map[string]struct{})
		g.buckets[c] = ids
	}
	ids[rec.DriverID] = struct{}{}
}

func (g *Grid) unbucket(rec *models.DriverRecord) {
	c := cellFor(rec.Loc)
	if ids, ok := g.buckets[c]; ok {
		delete(ids, rec.DriverID)
		if len(ids) == 0 {
			delete(g.buckets, c)
		}
	}
}

// cellsWithin lists every bucket overlapping the bounding box of the radius.
func cellsWithin(p models.Coord, radiusM float64) []cell {
	// meters per degree latitude; longitude shrinks with cos(lat) but the
	// bounding box only needs to over-approximate
	const mPerDeg = 111_320.0
	span := int(radiusM/(cellSizeDeg*mPerDeg)) + 1
	center := cellFor(p)
	cells := make([]cell, 0, (2*span+1)*(2*span+1))
	for dr := -span; dr <= span; dr++ {
		for dc := -span; dc <= span; dc++ {
			cells = append(cells, cell{row: center.row + dr, col: center.col + dc})
		}
	}
	return cells
}
