package navigation

import (
	"errors"
	"strings"
)

var (
	ErrInvalidLocation     = errors.New("invalid location")
	ErrAddressUnresolvable = errors.New("One of the addresses may be incomplete or invalid")
	ErrNoRouteAvailable    = errors.New("We were unable to find an accessible route for this trip")
	ErrUnknownTravelMode   = errors.New("unknown travel mode")
	ErrRouteSuperseded     = errors.New("route response superseded by a newer request")
	ErrRecalculationFailed = errors.New("route recalculation failed")
	ErrSessionNotFound     = errors.New("session not found")
	ErrNavigationStopped   = errors.New("navigation was stopped before it started")
)

// unresolvableMarker is the engine text for a location that cannot be snapped to the network.
const unresolvableMarker = "could not be associated with a roadway or pathway"

// EngineError carries a routing engine failure message verbatim.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return "routing engine: " + e.Op + " failed"
	}
	return e.Err.Error()
}

func (e *EngineError) Unwrap() error { return e.Err }

// classifyEngineError maps raw engine failures onto the session error taxonomy.
func classifyEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	if strings.Contains(strings.ToLower(err.Error()), unresolvableMarker) {
		return ErrAddressUnresolvable
	}
	return &EngineError{Op: op, Err: err}
}
