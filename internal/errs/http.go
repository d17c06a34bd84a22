package errs

import (
	"errors"
	"net/http"
)

// HTTPStatus maps a dispatch error to the status code the API returns.
// Domain rejections are client-visible outcomes, not server failures.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrRideAlreadyAssigned):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotCandidate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrOfferExpired):
		return http.StatusGone
	case errors.Is(err, ErrNoCandidates):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrBusUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
