package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RideState is the lifecycle state of a ride. Transitions between states
// are owned exclusively by the lifecycle coordinator.
type RideState string

const (
	StateRequested     RideState = "REQUESTED"
	StateMatching      RideState = "MATCHING"
	StateAssigned      RideState = "ASSIGNED"
	StateInProgress    RideState = "IN_PROGRESS"
	StateCompleted     RideState = "COMPLETED"
	StateCancelled     RideState = "CANCELLED"
	StateNoDriverFound RideState = "NO_DRIVER_FOUND"
)

// Terminal reports whether no further transitions are legal from s.
func (s RideState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateNoDriverFound:
		return true
	}
	return false
}

type Ride struct {
	ID           string    `json:"id"`
	PassengerID  string    `json:"passenger_id"`
	Pickup       Coord     `json:"pickup"`
	Destination  Coord     `json:"destination"`
	RequestedAt  time.Time `json:"requested_at"`
	DriverID     string    `json:"driver_id,omitempty"` // empty until assigned
	FareEstimate float64   `json:"fare_estimate"`
	State        RideState `json:"state"`
	// Version increases by exactly one per accepted transition and is the
	// serialization point for every concurrent write.
	Version int64 `json:"version"`

	CancelledBy  string    `json:"cancelled_by,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DriverRecord is one driver's availability entry in the index.
type DriverRecord struct {
	DriverID   string    `json:"driver_id"`
	Loc        Coord     `json:"loc"`
	Online     bool      `json:"online"`
	Capacity   int       `json:"capacity"`
	LastSeen   time.Time `json:"last_seen"`   // heartbeat event timestamp, not arrival time
	RideID     string    `json:"ride_id"`     // non-empty while assigned
	FreedSince time.Time `json:"freed_since"` // start of the current idle stretch
}

// Assigned reports whether the driver currently holds a ride and must not
// be offered another.
func (d DriverRecord) Assigned() bool { return d.RideID != "" }

// Heartbeat is the driver.heartbeat payload. SentAt orders heartbeats
// per driver regardless of delivery order.
type Heartbeat struct {
	DriverID string    `json:"driver_id" validate:"required"`
	Loc      Coord     `json:"loc"`
	Online   bool      `json:"online"`
	Capacity int       `json:"capacity"`
	SentAt   time.Time `json:"sent_at"`
}

// OfferOutcome is the resolution of one dispatch offer round.
type OfferOutcome string

const (
	OfferPending     OfferOutcome = "pending"
	OfferAccepted    OfferOutcome = "accepted"
	OfferExpired     OfferOutcome = "expired"
	OfferDeclinedAll OfferOutcome = "declined_all"
)

// Offer is one round of candidates invited to accept a ride. At most one
// offer per ride may be pending at a time.
type Offer struct {
	RideID     string       `json:"ride_id"`
	Round      int          `json:"round"`
	Candidates []string     `json:"candidates"`
	RadiusM    float64      `json:"radius_m"`
	Deadline   time.Time    `json:"deadline"`
	Outcome    OfferOutcome `json:"outcome"`
	WinnerID   string       `json:"winner_id,omitempty"`
}

// Candidate reports whether driverID was invited in this round.
func (o *Offer) Candidate(driverID string) bool {
	for _, id := range o.Candidates {
		if id == driverID {
			return true
		}
	}
	return false
}

type RideRequestInput struct {
	PassengerID string `json:"passenger_id" validate:"required"`
	Pickup      *Coord `json:"pickup" validate:"required"`
	Destination *Coord `json:"destination" validate:"required"`
}

// DriverResponse is a driver's answer to a broadcast offer.
type DriverResponse struct {
	RideID   string `json:"ride_id" validate:"required"`
	DriverID string `json:"driver_id" validate:"required"`
	Accept   bool   `json:"accept"`
}

// OfferNotice is the payload pushed to each candidate driver.
type OfferNotice struct {
	RideID       string    `json:"ride_id"`
	Round        int       `json:"round"`
	Pickup       Coord     `json:"pickup"`
	Destination  Coord     `json:"destination"`
	FareEstimate float64   `json:"fare_estimate"`
	Deadline     time.Time `json:"deadline"`
}
