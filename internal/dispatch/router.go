package dispatch

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/availability"
	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/observability"
)

// Router maps delivered bus messages onto the engine and the availability
// index. It is the bus.Handler the dispatcher binary runs on its key-sharded
// worker pool, so everything here sees one ride's events in order.
type Router struct {
	engine *Engine
	index  availability.Index
	logger *slog.Logger
}

func NewRouter(engine *Engine, index availability.Index, logger *slog.Logger) *Router {
	return &Router{engine: engine, index: index, logger: logger}
}

// Topics lists everything the router consumes.
func (r *Router) Topics() []string {
	return []string{
		events.TopicRideRequested,
		events.TopicRideAssigned,
		events.TopicRideCompleted,
		events.TopicRideCancelled,
		events.TopicDriverHeartbeat,
	}
}

func (r *Router) Handle(ctx context.Context, m bus.Message) error {
	switch m.Topic {
	case events.TopicDriverHeartbeat:
		hb, err := events.UnmarshalHeartbeat(m.Value)
		if err != nil {
			observability.HeartbeatsInvalid.Inc()
			r.logger.Warn("invalid heartbeat", "error", err)
			return nil
		}
		r.index.UpsertHeartbeat(hb)
		observability.HeartbeatsConsumed.Inc()
		return nil
	}

	ev, err := events.UnmarshalRideEvent(m.Value)
	if err != nil {
		r.logger.Warn("invalid ride event", "topic", m.Topic, "error", err)
		return nil
	}

	switch m.Topic {
	case events.TopicRideRequested:
		r.engine.HandleRideRequested(ctx, ev)
	case events.TopicRideAssigned:
		r.engine.HandleRideAssigned(ev)
	case events.TopicRideCompleted:
		r.engine.HandleRideClosed(ev)
	case events.TopicRideCancelled:
		r.engine.HandleRideCancelled(ev.RideID)
		// a post-assignment cancel also releases the driver
		r.engine.HandleRideClosed(ev)
	}
	return nil
}
