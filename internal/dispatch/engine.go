// Package dispatch turns requested rides into driver assignments. It runs
// one matching session per ride: query candidates, broadcast a time-boxed
// offer, resolve, and expand the search radius until a driver accepts or the
// round budget runs out. Acceptance races are settled exclusively by the
// lifecycle coordinator's compare-and-swap; nothing in this package's own
// bookkeeping ever decides who won.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/availability"
	"github.com/example/ride-dispatch/internal/clock"
	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Transitioner is the slice of the lifecycle coordinator the engine needs.
type Transitioner interface {
	ApplyTransition(ctx context.Context, rideID string, expectedVersion int64, ev lifecycle.Event, actor string) (*models.Ride, error)
}

// Notifier delivers offer notices to candidate drivers. Delivery is
// best-effort: a driver who never sees the notice simply does not answer.
type Notifier interface {
	Offer(driverID string, notice models.OfferNotice) error
	Rescind(driverID, rideID string) error
}

type Config struct {
	CandidatesPerRound int
	OfferTimeout       time.Duration
	BaseRadiusM        float64
	RadiusFactor       float64
	MaxRounds          int
}

func DefaultConfig() Config {
	return Config{
		CandidatesPerRound: 5,
		OfferTimeout:       10 * time.Second,
		BaseRadiusM:        2000,
		RadiusFactor:       2,
		MaxRounds:          3,
	}
}

type Engine struct {
	coord    Transitioner
	index    availability.Index
	notifier Notifier
	clk      clock.Clock
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

func NewEngine(coord Transitioner, index availability.Index, notifier Notifier, clk clock.Clock, cfg Config, logger *slog.Logger) *Engine {
	if cfg.CandidatesPerRound <= 0 {
		cfg.CandidatesPerRound = 5
	}
	if cfg.RadiusFactor <= 1 {
		cfg.RadiusFactor = 2
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	return &Engine{
		coord:    coord,
		index:    index,
		notifier: notifier,
		clk:      clk,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// session is one ride's in-flight matching. The offer under it is the only
// pending offer the ride may have; a new round starts only after the current
// one resolves.
type session struct {
	ride models.Ride // snapshot at MATCHING; Version is the accept ticket

	mu       sync.Mutex
	offer    *models.Offer
	declined map[string]bool

	advance   chan models.OfferOutcome
	cancelled chan struct{}
	stopOnce  sync.Once
}

func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.cancelled) })
}

// HandleRideRequested begins matching for a requested ride. Duplicate
// deliveries are absorbed: an active session wins, and a stale replay loses
// the match transition's version check.
func (e *Engine) HandleRideRequested(ctx context.Context, ev events.RideEvent) {
	e.mu.Lock()
	if _, active := e.sessions[ev.RideID]; active {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	ride, err := e.coord.ApplyTransition(ctx, ev.RideID, ev.Version, lifecycle.EventMatch, events.ActorSystem)
	if err != nil {
		if errors.Is(err, errs.ErrVersionConflict) || errors.Is(err, errs.ErrInvalidTransition) {
			// replayed or already-handled event
			return
		}
		e.logger.Error("match transition failed", "ride_id", ev.RideID, "error", err)
		return
	}

	s := &session{
		ride:      *ride,
		declined:  make(map[string]bool),
		advance:   make(chan models.OfferOutcome, 1),
		cancelled: make(chan struct{}),
	}
	e.mu.Lock()
	e.sessions[ev.RideID] = s
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.dropSession(ev.RideID)
		e.runRounds(ctx, s)
	}()
}

// HandleRideCancelled tears down the in-flight session, discarding round
// bookkeeping. The cancel itself was already persisted by the coordinator;
// any late accept will lose its version check there.
func (e *Engine) HandleRideCancelled(rideID string) {
	e.mu.Lock()
	s := e.sessions[rideID]
	e.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

// HandleRideAssigned reconciles the availability index from the confirmed
// assignment event. Safe under replay: re-marking the same pair is a no-op.
func (e *Engine) HandleRideAssigned(ev events.RideEvent) {
	if ev.DriverID != "" {
		e.index.MarkAssigned(ev.DriverID, ev.RideID)
	}
}

// HandleRideClosed frees the driver when a ride completes or is cancelled
// after assignment.
func (e *Engine) HandleRideClosed(ev events.RideEvent) {
	if ev.DriverID != "" {
		e.index.MarkFreed(ev.DriverID)
	}
}

// HandleResponse routes a driver's answer to the pending offer. An accept is
// settled by the coordinator's compare-and-swap: exactly one accept per ride
// can win it, no matter how many arrive or how they interleave. Losers get a
// domain rejection and stay available.
func (e *Engine) HandleResponse(ctx context.Context, resp models.DriverResponse) (*models.Ride, error) {
	e.mu.Lock()
	s := e.sessions[resp.RideID]
	e.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("%w: no matching in progress for ride %s", errs.ErrOfferExpired, resp.RideID)
	}

	s.mu.Lock()
	o := s.offer
	if o == nil || o.Outcome != models.OfferPending {
		s.mu.Unlock()
		return nil, errs.ErrOfferExpired
	}
	if !o.Candidate(resp.DriverID) {
		s.mu.Unlock()
		return nil, errs.ErrNotCandidate
	}
	if !resp.Accept {
		s.declined[resp.DriverID] = true
		all := true
		for _, id := range o.Candidates {
			if !s.declined[id] {
				all = false
				break
			}
		}
		if all {
			o.Outcome = models.OfferDeclinedAll
		}
		s.mu.Unlock()
		if all {
			s.signal(models.OfferDeclinedAll)
		}
		return nil, nil
	}
	s.mu.Unlock()

	ride, err := e.coord.ApplyTransition(ctx, resp.RideID, s.ride.Version, lifecycle.EventAccept, resp.DriverID)
	if err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			// another driver's accept won, or the ride was cancelled mid-round
			return nil, fmt.Errorf("%w: ride %s", errs.ErrRideAlreadyAssigned, resp.RideID)
		}
		return nil, err
	}

	s.mu.Lock()
	o.Outcome = models.OfferAccepted
	o.WinnerID = resp.DriverID
	losers := make([]string, 0, len(o.Candidates))
	for _, id := range o.Candidates {
		if id != resp.DriverID {
			losers = append(losers, id)
		}
	}
	s.mu.Unlock()
	s.signal(models.OfferAccepted)

	for _, id := range losers {
		_ = e.notifier.Rescind(id, resp.RideID)
	}
	observability.OfferOutcomes.WithLabelValues(string(models.OfferAccepted)).Inc()
	observability.MatchLatency.Observe(e.clk.Now().Sub(s.ride.RequestedAt).Seconds())
	return ride, nil
}

func (s *session) signal(out models.OfferOutcome) {
	select {
	case s.advance <- out:
	default:
	}
}

func (e *Engine) runRounds(ctx context.Context, s *session) {
	radius := e.cfg.BaseRadiusM
	for round := 1; round <= e.cfg.MaxRounds; round++ {
		outcome := e.runRound(ctx, s, round, radius)
		switch outcome {
		case models.OfferAccepted:
			return
		case "": // cancelled
			return
		}
		// expired or declined-all: widen the net and go again
		radius *= e.cfg.RadiusFactor
	}

	// every round exhausted
	_, err := e.coord.ApplyTransition(ctx, s.ride.ID, s.ride.Version, lifecycle.EventExhaust, events.ActorSystem)
	if err != nil {
		if !errors.Is(err, errs.ErrVersionConflict) && !errors.Is(err, errs.ErrInvalidTransition) {
			e.logger.Error("exhaust transition failed", "ride_id", s.ride.ID, "error", err)
		}
		return
	}
	observability.RidesUnmatched.Inc()
}

// runRound resolves one offer round and returns its outcome; "" means the
// session was cancelled.
func (e *Engine) runRound(ctx context.Context, s *session, round int, radiusM float64) models.OfferOutcome {
	cands := e.index.QueryCandidates(s.ride.Pickup, radiusM, e.cfg.CandidatesPerRound)
	if len(cands) == 0 {
		// nothing to offer: the round resolves as expired immediately
		observability.OfferOutcomes.WithLabelValues(string(models.OfferExpired)).Inc()
		return models.OfferExpired
	}

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.DriverID
	}
	offer := &models.Offer{
		RideID:     s.ride.ID,
		Round:      round,
		Candidates: ids,
		RadiusM:    radiusM,
		Deadline:   e.clk.Now().Add(e.cfg.OfferTimeout),
		Outcome:    models.OfferPending,
	}

	s.mu.Lock()
	s.offer = offer
	s.declined = make(map[string]bool)
	s.mu.Unlock()

	// arm the deadline before any candidate can see the notice
	deadline := e.clk.After(e.cfg.OfferTimeout)

	notice := models.OfferNotice{
		RideID:       s.ride.ID,
		Round:        round,
		Pickup:       s.ride.Pickup,
		Destination:  s.ride.Destination,
		FareEstimate: s.ride.FareEstimate,
		Deadline:     offer.Deadline,
	}
	for _, id := range ids {
		if err := e.notifier.Offer(id, notice); err != nil {
			e.logger.Debug("offer notice undeliverable", "ride_id", s.ride.ID, "driver_id", id, "error", err)
		}
	}
	observability.OffersBroadcast.Inc()
	for {
		select {
		case out := <-s.advance:
			return out
		case <-deadline:
			s.mu.Lock()
			pending := offer.Outcome == models.OfferPending
			if pending {
				offer.Outcome = models.OfferExpired
			}
			s.mu.Unlock()
			if !pending {
				// an accept slipped in as the timer fired; let its signal land
				continue
			}
			observability.OfferOutcomes.WithLabelValues(string(models.OfferExpired)).Inc()
			for _, id := range ids {
				_ = e.notifier.Rescind(id, s.ride.ID)
			}
			return models.OfferExpired
		case <-s.cancelled:
			s.mu.Lock()
			if offer.Outcome == models.OfferPending {
				offer.Outcome = models.OfferExpired
			}
			s.mu.Unlock()
			for _, id := range ids {
				_ = e.notifier.Rescind(id, s.ride.ID)
			}
			return ""
		}
	}
}

func (e *Engine) dropSession(rideID string) {
	e.mu.Lock()
	delete(e.sessions, rideID)
	e.mu.Unlock()
}

// Wait blocks until every in-flight session has wound down. Used on shutdown.
func (e *Engine) Wait() { e.wg.Wait() }
