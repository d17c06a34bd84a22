package payments

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/events"
)

// Gateway is the payment provider surface the processor depends on.
type Gateway interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Processor reacts to ride lifecycle events: hold funds at assignment,
// capture on completion, release on cancellation. It subscribes
// independently of the dispatch path and never blocks it. The holds map
// makes replayed events no-ops.
type Processor struct {
	gateway  Gateway
	currency string
	logger   *slog.Logger

	mu       sync.Mutex
	holds    map[string]string // ride ID -> payment intent ID
	captured map[string]bool
}

func NewProcessor(gateway Gateway, currency string, logger *slog.Logger) *Processor {
	if currency == "" {
		currency = "usd"
	}
	return &Processor{
		gateway:  gateway,
		currency: currency,
		logger:   logger,
		holds:    make(map[string]string),
		captured: make(map[string]bool),
	}
}

// Topics lists the subscriptions the processor needs.
func (p *Processor) Topics() []string {
	return []string{events.TopicRideAssigned, events.TopicRideCompleted, events.TopicRideCancelled}
}

func (p *Processor) Handle(ctx context.Context, m bus.Message) error {
	ev, err := events.UnmarshalRideEvent(m.Value)
	if err != nil {
		p.logger.Warn("payments: invalid event", "topic", m.Topic, "error", err)
		return nil
	}
	switch m.Topic {
	case events.TopicRideAssigned:
		p.hold(ctx, ev)
	case events.TopicRideCompleted:
		p.capture(ctx, ev)
	case events.TopicRideCancelled:
		p.release(ctx, ev)
	}
	return nil
}

func (p *Processor) hold(ctx context.Context, ev events.RideEvent) {
	p.mu.Lock()
	if _, ok := p.holds[ev.RideID]; ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	cents := int64(math.Round(ev.Fare * 100))
	if cents <= 0 {
		return
	}
	pi, err := p.gateway.Hold(ctx, cents, p.currency, ev.PassengerID)
	if err != nil {
		p.logger.Error("payments: hold failed", "ride_id", ev.RideID, "error", err)
		return
	}
	p.mu.Lock()
	p.holds[ev.RideID] = pi
	p.mu.Unlock()
}

func (p *Processor) capture(ctx context.Context, ev events.RideEvent) {
	p.mu.Lock()
	pi, ok := p.holds[ev.RideID]
	done := p.captured[ev.RideID]
	p.mu.Unlock()
	if !ok || done {
		return
	}
	if err := p.gateway.Capture(ctx, pi); err != nil {
		p.logger.Error("payments: capture failed", "ride_id", ev.RideID, "error", err)
		return
	}
	p.mu.Lock()
	p.captured[ev.RideID] = true
	p.mu.Unlock()
}

func (p *Processor) release(ctx context.Context, ev events.RideEvent) {
	p.mu.Lock()
	pi, ok := p.holds[ev.RideID]
	delete(p.holds, ev.RideID)
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := p.gateway.Cancel(ctx, pi); err != nil {
		p.logger.Error("payments: release failed", "ride_id", ev.RideID, "error", err)
	}
}
