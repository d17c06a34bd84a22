package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/clock"
	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	published []bus.Message
}

func (r *recorder) Publish(ctx context.Context, topic, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, bus.Message{Topic: topic, Key: key, Value: value})
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func (r *recorder) last() bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published[len(r.published)-1]
}

type flatFare struct{ v float64 }

func (f flatFare) Estimate(_, _ models.Coord) float64 { return f.v }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newCoordinator(t *testing.T) (*Coordinator, *store.Memory, *recorder) {
	t.Helper()
	st := store.NewMemory()
	rec := &recorder{}
	c := NewCoordinator(st, rec, clock.NewFake(t0), flatFare{v: 12.5}, discard())
	return c, st, rec
}

func validInput() models.RideRequestInput {
	return models.RideRequestInput{
		PassengerID: "p1",
		Pickup:      &models.Coord{Lat: 12.97, Lon: 77.59},
		Destination: &models.Coord{Lat: 12.93, Lon: 77.62},
	}
}

func TestCreateRide(t *testing.T) {
	c, _, rec := newCoordinator(t)
	r, err := c.CreateRide(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if r.State != models.StateRequested || r.Version != 1 {
		t.Fatalf("fresh ride should be REQUESTED v1, got %s v%d", r.State, r.Version)
	}
	if r.FareEstimate != 12.5 {
		t.Fatalf("fare estimate not set: %f", r.FareEstimate)
	}
	if rec.count() != 1 {
		t.Fatalf("expected exactly one RideRequested event, got %d", rec.count())
	}
	m := rec.last()
	if m.Topic != events.TopicRideRequested || m.Key != r.ID {
		t.Fatalf("wrong publication: topic=%s key=%s", m.Topic, m.Key)
	}
}

func TestCreateRideRejectsMissingEndpoints(t *testing.T) {
	c, _, rec := newCoordinator(t)
	in := validInput()
	in.Destination = nil
	if _, err := c.CreateRide(context.Background(), in); !errors.Is(err, errs.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if rec.count() != 0 {
		t.Fatal("rejected request must publish nothing")
	}
}

func TestCreateRideRejectsIdenticalEndpoints(t *testing.T) {
	c, _, _ := newCoordinator(t)
	in := validInput()
	in.Destination = in.Pickup
	if _, err := c.CreateRide(context.Background(), in); !errors.Is(err, errs.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestVersionCountsAcceptedTransitions(t *testing.T) {
	c, _, rec := newCoordinator(t)
	ctx := context.Background()
	r, _ := c.CreateRide(ctx, validInput())

	steps := []struct {
		ev    Event
		actor string
		state models.RideState
	}{
		{EventMatch, events.ActorSystem, models.StateMatching},
		{EventAccept, "driver-1", models.StateAssigned},
		{EventStart, "driver-1", models.StateInProgress},
		{EventFinish, "driver-1", models.StateCompleted},
	}
	for i, s := range steps {
		next, err := c.ApplyTransition(ctx, r.ID, r.Version, s.ev, s.actor)
		if err != nil {
			t.Fatalf("step %d (%s): %v", i, s.ev, err)
		}
		if next.Version != r.Version+1 {
			t.Fatalf("step %d: version %d, want %d", i, next.Version, r.Version+1)
		}
		if next.State != s.state {
			t.Fatalf("step %d: state %s, want %s", i, next.State, s.state)
		}
		r = next
	}
	// one creation event plus one per transition
	if rec.count() != 1+len(steps) {
		t.Fatalf("expected %d events, got %d", 1+len(steps), rec.count())
	}
	if r.DriverID != "driver-1" {
		t.Fatalf("accept should record the driver, got %q", r.DriverID)
	}
}

func TestStaleVersionRejectedAndStateUnchanged(t *testing.T) {
	c, st, rec := newCoordinator(t)
	ctx := context.Background()
	r, _ := c.CreateRide(ctx, validInput())
	before := rec.count()

	if _, err := c.ApplyTransition(ctx, r.ID, 99, EventMatch, events.ActorSystem); !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	cur, _ := st.Get(ctx, r.ID)
	if cur.State != models.StateRequested || cur.Version != 1 {
		t.Fatalf("stored state mutated on conflict: %+v", cur)
	}
	if rec.count() != before {
		t.Fatal("rejected transition must publish nothing")
	}
}

func TestReplayedTransitionIsNoOp(t *testing.T) {
	c, st, rec := newCoordinator(t)
	ctx := context.Background()
	r, _ := c.CreateRide(ctx, validInput())

	if _, err := c.ApplyTransition(ctx, r.ID, 1, EventMatch, events.ActorSystem); err != nil {
		t.Fatal(err)
	}
	count := rec.count()

	// duplicate delivery of the same event carries the same expected version
	if _, err := c.ApplyTransition(ctx, r.ID, 1, EventMatch, events.ActorSystem); !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("replay should lose the version check, got %v", err)
	}
	cur, _ := st.Get(ctx, r.ID)
	if cur.Version != 2 || cur.State != models.StateMatching {
		t.Fatalf("replay changed state: %+v", cur)
	}
	if rec.count() != count {
		t.Fatal("replay must not publish again")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	c, _, _ := newCoordinator(t)
	ctx := context.Background()
	r, _ := c.CreateRide(ctx, validInput())

	if _, err := c.ApplyTransition(ctx, r.ID, 1, EventFinish, "driver-1"); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("finish from REQUESTED should be invalid, got %v", err)
	}
}

func TestActorGuards(t *testing.T) {
	c, _, _ := newCoordinator(t)
	ctx := context.Background()
	r, _ := c.CreateRide(ctx, validInput())
	r, _ = c.ApplyTransition(ctx, r.ID, 1, EventMatch, events.ActorSystem)
	r, _ = c.ApplyTransition(ctx, r.ID, 2, EventAccept, "driver-1")

	if _, err := c.ApplyTransition(ctx, r.ID, 3, EventStart, "driver-2"); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("start by a different driver should be invalid, got %v", err)
	}
	if _, err := c.CancelRide(ctx, r.ID, 3, "stranger", "nope"); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("cancel by a non-participant should be invalid, got %v", err)
	}
}

func TestCancelRecordsActorAndReason(t *testing.T) {
	c, _, rec := newCoordinator(t)
	ctx := context.Background()
	r, _ := c.CreateRide(ctx, validInput())

	got, err := c.CancelRide(ctx, r.ID, 1, "p1", "changed my mind")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateCancelled || got.CancelledBy != "p1" || got.CancelReason != "changed my mind" {
		t.Fatalf("cancellation not recorded: %+v", got)
	}
	m := rec.last()
	if m.Topic != events.TopicRideCancelled {
		t.Fatalf("expected cancellation event, got %s", m.Topic)
	}
	ev, _ := events.UnmarshalRideEvent(m.Value)
	if ev.Version != 2 || ev.Actor != "p1" {
		t.Fatalf("event payload wrong: %+v", ev)
	}

	if _, err := c.CancelRide(ctx, r.ID, 2, "p1", "again"); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("cancel from a terminal state should be invalid, got %v", err)
	}
}

func TestCancelNotLegalInProgress(t *testing.T) {
	c, _, _ := newCoordinator(t)
	ctx := context.Background()
	r, _ := c.CreateRide(ctx, validInput())
	r, _ = c.ApplyTransition(ctx, r.ID, 1, EventMatch, events.ActorSystem)
	r, _ = c.ApplyTransition(ctx, r.ID, 2, EventAccept, "driver-1")
	r, _ = c.ApplyTransition(ctx, r.ID, 3, EventStart, "driver-1")

	if _, err := c.CancelRide(ctx, r.ID, 4, "p1", "too late"); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("cancel mid-trip should be invalid, got %v", err)
	}
}

type failingPublisher struct {
	mu    sync.Mutex
	fails int
	sent  int
}

func (f *failingPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("broker away")
	}
	f.sent++
	return nil
}

func TestPublishFailureDoesNotUnwindPersistence(t *testing.T) {
	st := store.NewMemory()
	pub := &failingPublisher{fails: 100}
	c := NewCoordinator(st, pub, clock.Real{}, flatFare{v: 5}, discard())

	r, err := c.CreateRide(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create must succeed even when publication fails: %v", err)
	}
	cur, gerr := st.Get(context.Background(), r.ID)
	if gerr != nil || cur.Version != 1 {
		t.Fatalf("ride not persisted: %v %+v", gerr, cur)
	}
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	st := store.NewMemory()
	pub := &failingPublisher{fails: 2}
	c := NewCoordinator(st, pub, clock.Real{}, flatFare{v: 5}, discard())

	if _, err := c.CreateRide(context.Background(), validInput()); err != nil {
		t.Fatal(err)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.sent != 1 {
		t.Fatalf("expected publish to succeed on retry, sent=%d", pub.sent)
	}
}
