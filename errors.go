package telemetry

import (
	"errors"
	"fmt"
)

// Code is the stable error code attached to coordinator-level failures.
type Code string

const (
	CodeNotInitialized    Code = "NOT_INITIALIZED"
	CodeInitializationErr Code = "INITIALIZATION_ERROR"
	CodeTrackingError     Code = "TRACKING_ERROR"
	CodeFlushError        Code = "FLUSH_ERROR"
	CodeIdentificationErr Code = "USER_IDENTIFICATION_ERROR"
	CodeSessionError      Code = "SESSION_ERROR"
	CodeDestroyError      Code = "DESTROY_ERROR"
)

// ErrNotInitialized is wrapped by every operation invoked outside the
// Ready state.
var ErrNotInitialized = errors.New("telemetry: client is not initialized")

// ErrDestroyed is wrapped when an operation hits a destroyed client.
var ErrDestroyed = errors.New("telemetry: client is destroyed")

var errAlreadyInitialized = errors.New("telemetry: client is already initialized")

// Error decorates an internal failure with a stable code and the current
// identity/session context for correlation.
type Error struct {
	Code      Code
	UserID    string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v (user=%s session=%s)", e.Code, e.Err, e.UserID, e.SessionID)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the coordinator error code, or "" for foreign errors.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
