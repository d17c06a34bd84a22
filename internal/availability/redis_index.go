package availability

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/clock"
	"github.com/example/ride-dispatch/internal/models"
)

// RedisIndex implements Index on Redis GEO commands so multiple dispatcher
// replicas share one availability view. Positions live in a GEO set keyed by
// driver ID; the rest of the record lives in a per-driver metadata hash.
type RedisIndex struct {
	client *redis.Client
	geoKey string
	clk    clock.Clock
	// heartbeats older than this are filtered at query time instead of a
	// keyspace-scanning sweep
	staleAfter time.Duration
}

func NewRedisIndex(addr, password, geoKey string, clk clock.Clock, staleAfter time.Duration) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, geoKey: geoKey, clk: clk, staleAfter: staleAfter}
}

func metaKey(driverID string) string { return "driver:avail:" + driverID }

func (r *RedisIndex) UpsertHeartbeat(hb models.Heartbeat) {
	ctx := context.Background()
	key := metaKey(hb.DriverID)

	// last-write-wins by heartbeat timestamp
	if prev, err := r.client.HGet(ctx, key, "last_seen").Result(); err == nil {
		if ns, perr := strconv.ParseInt(prev, 10, 64); perr == nil && hb.SentAt.UnixNano() < ns {
			return
		}
	}

	_, _ = r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
		Longitude: hb.Loc.Lon, Latitude: hb.Loc.Lat, Name: hb.DriverID,
	}).Result()
	_ = r.client.HSet(ctx, key, map[string]interface{}{
		"online":    strconv.FormatBool(hb.Online),
		"capacity":  strconv.Itoa(hb.Capacity),
		"last_seen": strconv.FormatInt(hb.SentAt.UnixNano(), 10),
	}).Err()
	_ = r.client.HSetNX(ctx, key, "freed_since", strconv.FormatInt(hb.SentAt.UnixNano(), 10)).Err()
}

func (r *RedisIndex) MarkAssigned(driverID, rideID string) {
	_ = r.client.HSet(context.Background(), metaKey(driverID), "ride_id", rideID).Err()
}

func (r *RedisIndex) MarkFreed(driverID string) {
	ctx := context.Background()
	_ = r.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"ride_id":     "",
		"freed_since": strconv.FormatInt(r.clk.Now().UnixNano(), 10),
	}).Err()
}

func (r *RedisIndex) Snapshot(driverID string) (models.DriverRecord, bool) {
	ctx := context.Background()
	m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil || len(m) == 0 {
		return models.DriverRecord{}, false
	}
	rec := recordFromMeta(driverID, m)
	if pos, err := r.client.GeoPos(ctx, r.geoKey, driverID).Result(); err == nil && len(pos) == 1 && pos[0] != nil {
		rec.Loc = models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
	}
	return rec, true
}

func (r *RedisIndex) QueryCandidates(p models.Coord, radiusM float64, limit int) []models.DriverRecord {
	ctx := context.Background()
	res, err := r.client.GeoRadius(ctx, r.geoKey, p.Lon, p.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusM,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil
	}

	now := r.clk.Now()
	type scored struct {
		rec  models.DriverRecord
		dist float64
	}
	var out []scored
	for _, g := range res {
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil || len(m) == 0 {
			continue
		}
		rec := recordFromMeta(g.Name, m)
		rec.Loc = models.Coord{Lat: g.Latitude, Lon: g.Longitude}
		if !rec.Online || rec.Assigned() {
			continue
		}
		if now.Sub(rec.LastSeen) > r.staleAfter {
			continue
		}
		out = append(out, scored{rec: rec, dist: g.Dist})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
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

func recordFromMeta(driverID string, m map[string]string) models.DriverRecord {
	rec := models.DriverRecord{DriverID: driverID}
	rec.Online = m["online"] == "true"
	if v, err := strconv.Atoi(m["capacity"]); err == nil {
		rec.Capacity = v
	}
	if ns, err := strconv.ParseInt(m["last_seen"], 10, 64); err == nil {
		rec.LastSeen = time.Unix(0, ns)
	}
	if ns, err := strconv.ParseInt(m["freed_since"], 10, 64); err == nil {
		rec.FreedSince = time.Unix(0, ns)
	}
	rec.RideID = m["ride_id"]
	return rec
}
