// Package robot builds the declared set of devices on top of a started core
// and presents them uniformly to the outer surfaces (MQTT bridge, telemetry
// recorder, monitor API).
//
// Every façade's typed telemetry event is forwarded into one Samples event
// carrying kind-independent field maps, so consumers subscribe once instead
// of once per device kind.
package robot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/core"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/device/navx"
	"github.com/nerrad567/ferrobot-core/internal/device/sparkmax"
	"github.com/nerrad567/ferrobot-core/internal/event"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
)

// Action names a remote set-point request.
type Action string

// Supported remote actions.
const (
	ActionSetOutput   Action = "set_output"
	ActionSetVelocity Action = "set_velocity"
	ActionSetPosition Action = "set_position"
	ActionZeroYaw     Action = "zero_yaw"
)

var (
	// ErrUnsupportedAction is returned when a request names an action the
	// target device kind does not have.
	ErrUnsupportedAction = errors.New("robot: action not supported by device")
)

// Request is a remote command against one device.
type Request struct {
	Action Action  `json:"action"`
	Value  float64 `json:"value"`
}

// Sample is one decoded telemetry reading from any device kind.
type Sample struct {
	Device device.Identity `json:"device"`
	Name   string          `json:"name,omitempty"`
	Fields map[string]any  `json:"fields"`
	Time   time.Time       `json:"time"`
}

// Info describes one built device.
type Info struct {
	Device device.Identity `json:"device"`
	Name   string          `json:"name,omitempty"`
}

// Robot owns the façades built from the device declarations.
type Robot struct {
	core    *core.Core
	motors  map[uint8]*sparkmax.SparkMax
	gyros   map[navx.Connection]*navx.NavX
	names   map[device.Identity]string
	samples *event.Event[Sample]
	subs    []*event.Subscription
	logger  core.Logger
}

// Build constructs every declared device in declaration order. If any
// construction fails, the devices built so far are closed and the error is
// returned.
func Build(ctx context.Context, c *core.Core, decls config.DevicesConfig) (*Robot, error) {
	r := &Robot{
		core:    c,
		motors:  make(map[uint8]*sparkmax.SparkMax, len(decls.SparkMax)),
		gyros:   make(map[navx.Connection]*navx.NavX, len(decls.NavX)),
		names:   make(map[device.Identity]string),
		samples: event.New[Sample]("robot/samples"),
		logger:  c.Logger(),
	}

	for _, decl := range decls.SparkMax {
		m, err := sparkmax.New(ctx, c, decl.ID, decl.Config)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("building spark max %d: %w", decl.ID, err)
		}
		r.motors[decl.ID] = m
		r.names[m.Identity()] = decl.Name
		forward(r, m.Identity(), m.Telemetry(), motorFields)
	}

	for _, decl := range decls.NavX {
		g, err := navx.New(ctx, c, decl.Connection)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("building navx on %s: %w", decl.Connection, err)
		}
		r.gyros[decl.Connection] = g
		r.names[g.Identity()] = decl.Name
		forward(r, g.Identity(), g.Telemetry(), gyroFields)
	}

	r.logger.Info("robot built", "spark_max", len(r.motors), "navx", len(r.gyros))
	return r, nil
}

// forward chains a façade's typed telemetry event into Samples.
func forward[T any](r *Robot, dev device.Identity, src *event.Event[T], fields func(T) map[string]any) {
	name := r.names[dev]
	sub := event.Trigger(r.core.Emitter(), src, r.samples, func(d T) Sample {
		return Sample{Device: dev, Name: name, Fields: fields(d), Time: time.Now()}
	})
	r.subs = append(r.subs, sub)
}

// Samples is emitted once per device per supplied snapshot.
func (r *Robot) Samples() *event.Event[Sample] { return r.samples }

// Core returns the core the devices are registered with.
func (r *Robot) Core() *core.Core { return r.core }

// Motor returns the SPARK MAX with the given CAN id.
func (r *Robot) Motor(id uint8) (*sparkmax.SparkMax, bool) {
	m, ok := r.motors[id]
	return m, ok
}

// Gyro returns the NavX on the given connection.
func (r *Robot) Gyro(conn navx.Connection) (*navx.NavX, bool) {
	g, ok := r.gyros[conn]
	return g, ok
}

// Devices lists the built devices ordered by identity.
func (r *Robot) Devices() []Info {
	out := make([]Info, 0, len(r.names))
	for dev, name := range r.names {
		out = append(out, Info{Device: dev, Name: name})
	}
	slices.SortFunc(out, func(a, b Info) int { return a.Device.Compare(b.Device) })
	return out
}

// Has reports whether dev was built by this robot.
func (r *Robot) Has(dev device.Identity) bool {
	_, ok := r.names[dev]
	return ok
}

// Latest decodes the cached telemetry of dev. It reports false when the
// device is unknown or absent from the last snapshot.
func (r *Robot) Latest(dev device.Identity) (Sample, bool) {
	var fields map[string]any
	switch dev.Kind {
	case device.KindSparkMax:
		m, ok := r.motors[dev.ID]
		if !ok {
			return Sample{}, false
		}
		d, ok := m.Data()
		if !ok {
			return Sample{}, false
		}
		fields = motorFields(d)
	case device.KindNavX:
		g, ok := r.gyros[navx.Connection(dev.ID)]
		if !ok {
			return Sample{}, false
		}
		d, ok := g.Data()
		if !ok {
			return Sample{}, false
		}
		fields = gyroFields(d)
	default:
		return Sample{}, false
	}
	return Sample{Device: dev, Name: r.names[dev], Fields: fields, Time: time.Now()}, true
}

// Apply performs a remote request against dev.
func (r *Robot) Apply(ctx context.Context, dev device.Identity, req Request) error {
	switch dev.Kind {
	case device.KindSparkMax:
		m, ok := r.motors[dev.ID]
		if !ok {
			return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, dev)
		}
		switch req.Action {
		case ActionSetOutput:
			return m.SetOutput(ctx, req.Value)
		case ActionSetVelocity:
			return m.SetVelocity(ctx, req.Value)
		case ActionSetPosition:
			return m.SetPosition(ctx, req.Value)
		}
	case device.KindNavX:
		g, ok := r.gyros[navx.Connection(dev.ID)]
		if !ok {
			return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, dev)
		}
		if req.Action == ActionZeroYaw {
			return g.ZeroYaw(ctx)
		}
	default:
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, dev)
	}
	return fmt.Errorf("%w: %q on %s", ErrUnsupportedAction, req.Action, dev)
}

// Close removes the forwarding subscriptions and unregisters every device.
func (r *Robot) Close() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil
	for id, m := range r.motors {
		if err := m.Close(); err != nil {
			r.logger.Warn("closing spark max", "id", id, "error", err)
		}
	}
	for conn, g := range r.gyros {
		if err := g.Close(); err != nil {
			r.logger.Warn("closing navx", "connection", conn.String(), "error", err)
		}
	}
}

func motorFields(d sparkmax.Data) map[string]any {
	return map[string]any{
		"connected": d.Connected,
		"output":    d.Output,
		"position":  d.Position,
		"velocity":  d.Velocity,
		"current":   d.Current,
	}
}

func gyroFields(d navx.Data) map[string]any {
	return map[string]any{
		"connected": d.Connected,
		"heading":   d.Heading,
		"rate":      d.Rate,
	}
}
