package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

// Postgres implements RideStore on a rides table. The compare-and-swap is a
// single UPDATE guarded by the version column; zero rows affected means the
// caller lost the race (or the ride is gone).
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Create(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides(id, passenger_id, pickup_lat, pickup_lon, dest_lat, dest_lon,
			requested_at, driver_id, fare_estimate, state, version,
			cancelled_by, cancel_reason, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.PassengerID, r.Pickup.Lat, r.Pickup.Lon, r.Destination.Lat, r.Destination.Lon,
		r.RequestedAt, nullable(r.DriverID), r.FareEstimate, string(r.State), r.Version,
		nullable(r.CancelledBy), nullable(r.CancelReason), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, passenger_id, pickup_lat, pickup_lon, dest_lat, dest_lon,
			requested_at, COALESCE(driver_id,''), fare_estimate, state, version,
			COALESCE(cancelled_by,''), COALESCE(cancel_reason,''), updated_at
		FROM rides WHERE id=$1`, rideID)

	var r models.Ride
	var state string
	err := row.Scan(&r.ID, &r.PassengerID, &r.Pickup.Lat, &r.Pickup.Lon,
		&r.Destination.Lat, &r.Destination.Lon, &r.RequestedAt, &r.DriverID,
		&r.FareEstimate, &state, &r.Version, &r.CancelledBy, &r.CancelReason, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", errs.ErrStoreUnavailable, err)
	}
	r.State = models.RideState(state)
	return &r, nil
}

func (p *Postgres) CompareAndSwap(ctx context.Context, rideID string, expectedVersion int64, next *models.Ride) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides
		SET driver_id=$1, state=$2, version=$3,
			cancelled_by=$4, cancel_reason=$5, updated_at=$6
		WHERE id=$7 AND version=$8`,
		nullable(next.DriverID), string(next.State), next.Version,
		nullable(next.CancelledBy), nullable(next.CancelReason), next.UpdatedAt,
		rideID, expectedVersion)
	if err != nil {
		return fmt.Errorf("%w: update: %v", errs.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", errs.ErrStoreUnavailable, err)
	}
	if n == 0 {
		// distinguish a lost race from a missing ride
		if _, gerr := p.Get(ctx, rideID); errors.Is(gerr, errs.ErrNotFound) {
			return errs.ErrNotFound
		}
		return errs.ErrVersionConflict
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
