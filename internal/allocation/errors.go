package allocation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/example/trip-allocation/internal/distance"
	"github.com/example/trip-allocation/internal/storage"
)

// Kind classifies an allocation failure.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindNotFound            Kind = "not_found"
	KindNoCandidates        Kind = "no_candidates"
	KindOutOfRadius         Kind = "out_of_radius"
	KindConflict            Kind = "conflict"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindStorageFailure      Kind = "storage_failure"
)

// Error is the structured failure returned by every Engine operation.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict)
// works regardless of reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// HTTPStatus maps the kind to the status code used by the hosting API.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindNoCandidates, KindOutOfRadius:
		return http.StatusUnprocessableEntity
	case KindProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrNoCandidates        = &Error{Kind: KindNoCandidates}
	ErrOutOfRadius         = &Error{Kind: KindOutOfRadius}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrStorageFailure      = &Error{Kind: KindStorageFailure}
)

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Reasons shared with operators and API clients.
const (
	ReasonAlreadyResolved   = "trip already resolved"
	ReasonDriverUnavailable = "selected driver unavailable"
	ReasonNoFreshDrivers    = "no drivers with fresh location"
	ReasonMissingPickup     = "trip has no pickup location"
	ReasonTripNotFound      = "trip not found"
)

// KindOf classifies any error returned from this package or its
// collaborators. Unclassified errors, including context deadlines, are
// storage failures of the attempt.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	switch {
	case errors.Is(err, distance.ErrInvalidCoordinate):
		return KindInvalidInput
	case errors.Is(err, storage.ErrNotFound):
		return KindNotFound
	case errors.Is(err, storage.ErrTripNotPending), errors.Is(err, storage.ErrDriverOccupied), errors.Is(err, storage.ErrNotCancellable):
		return KindConflict
	default:
		return KindStorageFailure
	}
}

// classify wraps a collaborator error into an *Error, keeping an existing one.
func classify(err error, reason string) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return newError(KindOf(err), reason, err)
}
