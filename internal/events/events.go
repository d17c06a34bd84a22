// Package events defines the domain events the dispatch core publishes and
// consumes, and their bus topics. Every ride topic is partitioned by ride ID
// so one ride's events stay in order; heartbeats partition by driver ID.
package events

import (
	"encoding/json"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Topic names. Logical topics map one-to-one onto Kafka topics.
const (
	TopicRideRequested   = "ride.requested"
	TopicRideMatching    = "ride.matching"
	TopicRideAssigned    = "ride.assigned"
	TopicRideStarted     = "ride.started"
	TopicRideCompleted   = "ride.completed"
	TopicRideCancelled   = "ride.cancelled"
	TopicRideUnmatched   = "ride.unmatched"
	TopicDriverHeartbeat = "driver.heartbeat"
)

// RideTopics lists every ride-lifecycle topic, in no particular order.
var RideTopics = []string{
	TopicRideRequested,
	TopicRideMatching,
	TopicRideAssigned,
	TopicRideStarted,
	TopicRideCompleted,
	TopicRideCancelled,
	TopicRideUnmatched,
}

// ActorSystem identifies transitions initiated by the platform itself
// (match start, offer exhaustion) rather than a passenger or driver.
const ActorSystem = "system"

// RideEvent is the envelope for every ride lifecycle publication. It carries
// enough for consumers to react without re-reading the store.
type RideEvent struct {
	RideID      string           `json:"ride_id"`
	State       models.RideState `json:"state"`
	Version     int64            `json:"version"`
	Actor       string           `json:"actor"`
	OccurredAt  time.Time        `json:"occurred_at"`
	PassengerID string           `json:"passenger_id"`
	DriverID    string           `json:"driver_id,omitempty"`
	Pickup      models.Coord     `json:"pickup"`
	Destination models.Coord     `json:"destination"`
	Fare        float64          `json:"fare_estimate,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// TopicFor maps a ride state to the topic its entry event is published on.
func TopicFor(state models.RideState) string {
	switch state {
	case models.StateRequested:
		return TopicRideRequested
	case models.StateMatching:
		return TopicRideMatching
	case models.StateAssigned:
		return TopicRideAssigned
	case models.StateInProgress:
		return TopicRideStarted
	case models.StateCompleted:
		return TopicRideCompleted
	case models.StateCancelled:
		return TopicRideCancelled
	case models.StateNoDriverFound:
		return TopicRideUnmatched
	}
	return ""
}

// FromRide builds the event for a ride's just-entered state.
func FromRide(r *models.Ride, actor string, at time.Time) RideEvent {
	return RideEvent{
		RideID:      r.ID,
		State:       r.State,
		Version:     r.Version,
		Actor:       actor,
		OccurredAt:  at,
		PassengerID: r.PassengerID,
		DriverID:    r.DriverID,
		Pickup:      r.Pickup,
		Destination: r.Destination,
		Fare:        r.FareEstimate,
		Reason:      r.CancelReason,
	}
}

func (e RideEvent) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

func UnmarshalRideEvent(b []byte) (RideEvent, error) {
	var e RideEvent
	err := json.Unmarshal(b, &e)
	return e, err
}

func MarshalHeartbeat(h models.Heartbeat) []byte {
	b, _ := json.Marshal(h)
	return b
}

func UnmarshalHeartbeat(b []byte) (models.Heartbeat, error) {
	var h models.Heartbeat
	err := json.Unmarshal(b, &h)
	return h, err
}
