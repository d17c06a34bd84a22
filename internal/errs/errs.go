package errs

import "errors"

// Sentinel errors for the dispatch core. Callers branch with errors.Is.
var (
	// ErrInvalidRequest rejects malformed input before any state change.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTransition marks an event that is not legal from the ride's
	// current state. Terminal for the triggering event, never retried.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrVersionConflict is an optimistic concurrency loss. Expected under
	// racing; the caller re-reads and may retry.
	ErrVersionConflict = errors.New("version conflict")
	// ErrNotFound means the ride does not exist in the store.
	ErrNotFound = errors.New("ride not found")
	// ErrNoCandidates means an offer round found no eligible drivers. It is
	// a ride outcome, not a fault.
	ErrNoCandidates = errors.New("no candidates available")

	// ErrRideAlreadyAssigned is surfaced to a driver whose accept lost the race.
	ErrRideAlreadyAssigned = errors.New("ride already assigned")
	// ErrOfferExpired is surfaced to a driver answering after the round resolved.
	ErrOfferExpired = errors.New("offer expired")
	// ErrNotCandidate is surfaced to a driver answering an offer they were not part of.
	ErrNotCandidate = errors.New("driver is not a candidate for this offer")

	// ErrStoreUnavailable and ErrBusUnavailable wrap transient infrastructure
	// failures, retried with backoff by the affected component.
	ErrStoreUnavailable = errors.New("ride store unavailable")
	ErrBusUnavailable   = errors.New("event bus unavailable")
)
