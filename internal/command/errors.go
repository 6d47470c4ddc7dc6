package command

import (
	"errors"
	"fmt"

	"github.com/nerrad567/ferrobot-core/internal/device"
)

var (
	// ErrQueueFull is returned by Push when the queue is at capacity and
	// the overflow policy does not make room.
	ErrQueueFull = errors.New("command: queue full")

	// ErrMalformed is returned by Push for a command without a frame or
	// with an unknown device kind.
	ErrMalformed = errors.New("command: malformed command")

	// ErrRejected is matched by every *ProtocolError.
	ErrRejected = errors.New("command: rejected by host")

	// ErrInvalidPolicy is returned for an unrecognised overflow policy.
	ErrInvalidPolicy = errors.New("command: invalid overflow policy")
)

// ProtocolError carries a non-OK host response to a synchronous command.
// Err is the device-specific sentinel for the response code, if any.
type ProtocolError struct {
	Device   device.Identity
	Tag      Tag
	Response Response
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("command: host rejected tag %d for %s: %s", e.Tag, e.Device, e.Response.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrRejected and the device-specific sentinel.
func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRejected}
	}
	return []error{ErrRejected, e.Err}
}
