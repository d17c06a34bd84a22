package lifecycle

import (
	"fmt"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
)

// Event is a requested ride transition.
type Event string

const (
	// EventMatch moves a fresh request into matching. System-initiated.
	EventMatch Event = "match"
	// EventAccept is a driver winning the broadcast offer.
	EventAccept Event = "accept"
	// EventStart is the assigned driver beginning the trip.
	EventStart Event = "start"
	// EventFinish is the assigned driver completing the trip.
	EventFinish Event = "finish"
	// EventCancel aborts the ride before it starts.
	EventCancel Event = "cancel"
	// EventExhaust ends matching after every offer round failed.
	EventExhaust Event = "exhaust"
)

// transitions is the full state machine: state × event → next state.
// Anything absent here is an invalid transition.
var transitions = map[models.RideState]map[Event]models.RideState{
	models.StateRequested: {
		EventMatch:  models.StateMatching,
		EventCancel: models.StateCancelled,
	},
	models.StateMatching: {
		EventAccept:  models.StateAssigned,
		EventExhaust: models.StateNoDriverFound,
		EventCancel:  models.StateCancelled,
	},
	models.StateAssigned: {
		EventStart:  models.StateInProgress,
		EventCancel: models.StateCancelled,
	},
	models.StateInProgress: {
		EventFinish: models.StateCompleted,
	},
}

// Next resolves the target state, or ErrInvalidTransition.
func Next(from models.RideState, ev Event) (models.RideState, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s from %s", errs.ErrInvalidTransition, ev, from)
}

// checkActor enforces who may request each event against the current ride.
// The matching engine additionally verifies an accepting driver against the
// pending offer's candidate set before the event ever reaches here.
func checkActor(r *models.Ride, ev Event, actor string) error {
	switch ev {
	case EventMatch, EventExhaust:
		if actor != events.ActorSystem {
			return fmt.Errorf("%w: %s is system-initiated", errs.ErrInvalidTransition, ev)
		}
	case EventAccept:
		if actor == "" || actor == events.ActorSystem {
			return fmt.Errorf("%w: accept requires a driver actor", errs.ErrInvalidTransition)
		}
		if r.DriverID != "" {
			return fmt.Errorf("%w: ride already has a driver", errs.ErrInvalidTransition)
		}
	case EventStart, EventFinish:
		if actor != r.DriverID {
			return fmt.Errorf("%w: %s only by the assigned driver", errs.ErrInvalidTransition, ev)
		}
	case EventCancel:
		if actor != r.PassengerID && actor != r.DriverID && actor != events.ActorSystem {
			return fmt.Errorf("%w: cancel only by a ride participant", errs.ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: unknown event %q", errs.ErrInvalidTransition, ev)
	}
	return nil
}
