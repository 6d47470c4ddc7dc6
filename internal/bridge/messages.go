package bridge

import (
	"time"

	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/robot"
)

// CommandMessage is the payload expected on a command topic.
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Optional.
	ID string `json:"id,omitempty"`

	Action robot.Action `json:"action"`
	Value  float64      `json:"value"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted means the request was queued for the host.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the request was refused.
	AckFailed AckStatus = "failed"
)

// Error codes carried by failed acknowledgments.
const (
	ErrCodeInvalidCommand = "invalid_command"
	ErrCodeNotFound       = "device_not_found"
	ErrCodeUnsupported    = "unsupported_action"
	ErrCodeInvalidValue   = "invalid_value"
	ErrCodeFailed         = "failed"
)

// AckMessage answers a CommandMessage.
type AckMessage struct {
	CommandID string          `json:"command_id,omitempty"`
	Device    device.Identity `json:"device"`
	Status    AckStatus       `json:"status"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// StateMessage is published for each changed device sample.
type StateMessage struct {
	Device    device.Identity `json:"device"`
	Name      string          `json:"name,omitempty"`
	Fields    map[string]any  `json:"fields"`
	Timestamp time.Time       `json:"timestamp"`
}

// ModeMessage is published, retained, on every mode change.
type ModeMessage struct {
	Mode      device.Mode `json:"mode"`
	Timestamp time.Time   `json:"timestamp"`
}
