// Package lifecycle owns the ride state machine. Every transition is
// validated against the table in transitions.go, persisted through the
// store's compare-and-swap, and published as exactly one domain event.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/clock"
	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/store"
)

// FareEstimator quotes a fare for a pickup/destination pair.
type FareEstimator interface {
	Estimate(pickup, destination models.Coord) float64
}

type Coordinator struct {
	store    store.RideStore
	pub      bus.Publisher
	clk      clock.Clock
	fare     FareEstimator
	logger   *slog.Logger
	validate *validator.Validate
}

func NewCoordinator(s store.RideStore, pub bus.Publisher, clk clock.Clock, fare FareEstimator, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    s,
		pub:      pub,
		clk:      clk,
		fare:     fare,
		logger:   logger,
		validate: validator.New(),
	}
}

// CreateRide validates the request, persists the ride at version 1 in
// REQUESTED, and publishes RideRequested.
func (c *Coordinator) CreateRide(ctx context.Context, in models.RideRequestInput) (*models.Ride, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}
	if *in.Pickup == *in.Destination {
		return nil, fmt.Errorf("%w: pickup and destination are identical", errs.ErrInvalidRequest)
	}

	now := c.clk.Now()
	r := &models.Ride{
		ID:          uuid.NewString(),
		PassengerID: in.PassengerID,
		Pickup:      *in.Pickup,
		Destination: *in.Destination,
		RequestedAt: now,
		State:       models.StateRequested,
		Version:     1,
		UpdatedAt:   now,
	}
	if c.fare != nil {
		r.FareEstimate = c.fare.Estimate(r.Pickup, r.Destination)
	}

	if err := c.store.Create(ctx, r); err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()
	c.publish(ctx, r, in.PassengerID)
	return r, nil
}

// ApplyTransition moves rideID through the state machine. The caller's
// expectedVersion is the only admission ticket: a mismatch means someone else
// got there first and the caller must re-read. Stored state is untouched on
// any rejection.
func (c *Coordinator) ApplyTransition(ctx context.Context, rideID string, expectedVersion int64, ev Event, actor string) (*models.Ride, error) {
	return c.apply(ctx, rideID, expectedVersion, ev, actor, "")
}

// CancelRide records the cancelling actor and reason. Legal from REQUESTED,
// MATCHING, and ASSIGNED.
func (c *Coordinator) CancelRide(ctx context.Context, rideID string, expectedVersion int64, actor, reason string) (*models.Ride, error) {
	return c.apply(ctx, rideID, expectedVersion, EventCancel, actor, reason)
}

func (c *Coordinator) apply(ctx context.Context, rideID string, expectedVersion int64, ev Event, actor, reason string) (*models.Ride, error) {
	cur, err := c.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		observability.VersionConflicts.Inc()
		return nil, fmt.Errorf("%w: ride %s at v%d, caller expected v%d",
			errs.ErrVersionConflict, rideID, cur.Version, expectedVersion)
	}
	to, err := Next(cur.State, ev)
	if err != nil {
		return nil, err
	}
	if err := checkActor(cur, ev, actor); err != nil {
		return nil, err
	}

	next := *cur
	next.State = to
	next.Version = expectedVersion + 1
	next.UpdatedAt = c.clk.Now()
	switch ev {
	case EventAccept:
		next.DriverID = actor
	case EventCancel:
		next.CancelledBy = actor
		next.CancelReason = reason
	}

	if err := c.store.CompareAndSwap(ctx, rideID, expectedVersion, &next); err != nil {
		if errors.Is(err, errs.ErrVersionConflict) || errors.Is(err, errs.ErrNotFound) {
			observability.VersionConflicts.Inc()
			return nil, fmt.Errorf("%w: ride %s, caller expected v%d", errs.ErrVersionConflict, rideID, expectedVersion)
		}
		return nil, err
	}
	observability.TransitionsApplied.WithLabelValues(string(ev)).Inc()
	c.publish(ctx, &next, actor)
	return &next, nil
}

// publish emits the domain event for the ride's just-entered state.
// Persistence already succeeded: a publish failure is retried with backoff
// and then logged, never unwound. Downstream consumers tolerate the
// resulting at-least-once duplication.
func (c *Coordinator) publish(ctx context.Context, r *models.Ride, actor string) {
	topic := events.TopicFor(r.State)
	ev := events.FromRide(r, actor, c.clk.Now())

	delay := 100 * time.Millisecond
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.pub.Publish(ctx, topic, r.ID, ev.Marshal()); err == nil {
			return
		}
		select {
		case <-c.clk.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
			i = attempts
		}
		delay *= 2
	}
	observability.PublishFailures.Inc()
	c.logger.Error("event publish failed after retries",
		"topic", topic, "ride_id", r.ID, "version", r.Version, "error", err)
}
