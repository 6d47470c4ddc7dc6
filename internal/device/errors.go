package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrAlreadyRegistered) {
//	    // another handle already owns this device
//	}
var (
	// ErrDeviceNotFound is returned when an identity is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrAlreadyRegistered is returned when registering an identity twice.
	ErrAlreadyRegistered = errors.New("device: already registered")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("device: validation failed")

	// ErrUnknownKind is returned when a kind name or tag is not recognised.
	ErrUnknownKind = errors.New("device: unknown kind")

	// ErrInvalidIdentity is returned when an identity string cannot be parsed.
	ErrInvalidIdentity = errors.New("device: invalid identity")

	// ErrMalformedPayload is returned when a telemetry payload does not
	// match the fixed layout of its kind.
	ErrMalformedPayload = errors.New("device: malformed payload")
)

// ValidationError reports an argument or configuration value that failed a
// local check. Nothing is sent to the host when one is returned.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("device: invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is shorthand for constructing a *ValidationError.
func Invalid(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}
