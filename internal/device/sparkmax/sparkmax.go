// Package sparkmax is the façade for REV SPARK MAX motor controllers.
//
// A SparkMax handle is created with New, which registers the controller
// with the core and asks the host to construct it. Set-point calls are
// queued and reach the hardware on the host's next tick; telemetry is
// available from Data or as an event.
package sparkmax

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/core"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/event"
)

// Kind is the device kind of every SPARK MAX.
const Kind = device.KindSparkMax

// Command tags understood by the host.
const (
	TagSetPosition command.Tag = iota
	TagSetVelocity
	TagSetOutput
	TagConfigure
	TagCreate
)

var (
	// ErrMotorExists is wrapped when the host already drives a controller
	// with the requested CAN id.
	ErrMotorExists = errors.New("sparkmax: motor already exists")

	// ErrBadConfig is wrapped when the host refuses a configuration.
	ErrBadConfig = errors.New("sparkmax: invalid configuration")
)

// SparkMax is a handle to one motor controller.
type SparkMax struct {
	id        device.Identity
	core      *core.Core
	telemetry *event.Event[Data]
	logger    core.Logger
}

// New validates cfg, registers the controller and has the host create it.
// If the host refuses, the registration is undone and the returned error
// wraps ErrMotorExists or ErrBadConfig.
func New(ctx context.Context, c *core.Core, canID uint8, cfg Config) (*SparkMax, error) {
	if err := cfg.Validate(canID); err != nil {
		return nil, err
	}

	m := &SparkMax{
		id:        device.Identity{Kind: Kind, ID: canID},
		core:      c,
		telemetry: event.New[Data](fmt.Sprintf("spark_max/%d/telemetry", canID)),
		logger:    c.Logger(),
	}

	if err := c.Registry().AddDevice(m.id); err != nil {
		return nil, err
	}
	if err := m.execute(ctx, TagCreate, EncodeConfig(cfg)); err != nil {
		if rmErr := c.Registry().RemoveDevice(m.id); rmErr != nil {
			m.logger.Warn("rollback of failed registration", "device", m.id.String(), "error", rmErr)
		}
		return nil, err
	}
	if err := c.Registry().SetTelemetryHandler(m.id, m.onTelemetry); err != nil {
		return nil, err
	}

	m.logger.Info("spark max created",
		"device", m.id.String(),
		"motor_type", cfg.Motor.Type.String(),
		"leader_id", cfg.Motor.LeaderID,
	)
	return m, nil
}

// ID returns the CAN id.
func (m *SparkMax) ID() uint8 { return m.id.ID }

// Identity returns the device identity.
func (m *SparkMax) Identity() device.Identity { return m.id }

// Telemetry is emitted with every decoded sample supplied by the host.
func (m *SparkMax) Telemetry() *event.Event[Data] { return m.telemetry }

// OnData registers h for telemetry samples.
func (m *SparkMax) OnData(h event.Handler[Data]) *event.Subscription {
	return event.Register(m.core.Emitter(), m.telemetry, h)
}

// Data returns the most recent telemetry sample. It reports false when the
// last snapshot did not include this controller.
func (m *SparkMax) Data() (Data, bool) {
	payload, ok := m.core.Registry().Data(m.id)
	if !ok {
		return Data{}, false
	}
	d, err := DecodeData(payload)
	if err != nil {
		m.logger.Warn("undecodable spark max telemetry", "device", m.id.String(), "error", err)
		return Data{}, false
	}
	return d, true
}

// SetPosition requests a closed-loop position in rotations.
func (m *SparkMax) SetPosition(ctx context.Context, rotations float64) error {
	if !finite(rotations) {
		return device.Invalid("position", rotations, "must be a finite number")
	}
	m.logger.Debug("setting spark max position", "device", m.id.String(), "rotations", rotations)
	return m.push(ctx, TagSetPosition, EncodeSetpoint(rotations))
}

// SetVelocity requests a closed-loop velocity in rpm.
func (m *SparkMax) SetVelocity(ctx context.Context, rpm float64) error {
	if !finite(rpm) {
		return device.Invalid("velocity", rpm, "must be a finite number")
	}
	m.logger.Debug("setting spark max velocity", "device", m.id.String(), "rpm", rpm)
	return m.push(ctx, TagSetVelocity, EncodeSetpoint(rpm))
}

// SetOutput requests an open-loop duty cycle in [-1, 1].
func (m *SparkMax) SetOutput(ctx context.Context, output float64) error {
	if !finite(output) || !unitRange(output) {
		return device.Invalid("output", output, "must be within [-1, 1]")
	}
	m.logger.Debug("setting spark max output", "device", m.id.String(), "output", output)
	return m.push(ctx, TagSetOutput, EncodeSetpoint(output))
}

// Configure replaces the controller configuration and waits for the
// host's verdict.
func (m *SparkMax) Configure(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(m.id.ID); err != nil {
		return err
	}
	if !m.core.Registry().DeviceExists(m.id) {
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, m.id)
	}
	return m.execute(ctx, TagConfigure, EncodeConfig(cfg))
}

// Close unregisters the controller. Later set-point calls fail with
// device.ErrDeviceNotFound.
func (m *SparkMax) Close() error {
	return m.core.Registry().RemoveDevice(m.id)
}

func (m *SparkMax) push(ctx context.Context, tag command.Tag, payload []byte) error {
	return m.core.Push(ctx, command.New(m.id, tag, payload))
}

func (m *SparkMax) execute(ctx context.Context, tag command.Tag, payload []byte) error {
	resp, err := m.core.Execute(ctx, command.New(m.id, tag, payload))
	if err != nil {
		return err
	}
	return responseError(m.id, tag, resp)
}

func (m *SparkMax) onTelemetry(ctx context.Context, payload []byte) {
	d, err := DecodeData(payload)
	if err != nil {
		m.logger.Warn("undecodable spark max telemetry", "device", m.id.String(), "error", err)
		return
	}
	event.Emit(ctx, m.core.Emitter(), m.telemetry, d)
}

// responseError maps a host response to an error. A bad-command response
// means the core sent something the host cannot parse, which is a bug.
func responseError(id device.Identity, tag command.Tag, resp command.Response) error {
	var sentinel error
	switch resp.Code {
	case command.ResponseOK:
		return nil
	case command.ResponseExists:
		sentinel = ErrMotorExists
	case command.ResponseBadConfig:
		sentinel = ErrBadConfig
	default:
		panic(fmt.Sprintf("sparkmax: host reported %s for tag %d on %s", resp.Code, tag, id))
	}
	return &command.ProtocolError{Device: id, Tag: tag, Response: resp, Err: sentinel}
}
