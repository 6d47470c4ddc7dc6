// Package navx is the façade for the NavX inertial measurement unit.
//
// A gyro is identified by the port it is attached to, so at most one NavX
// exists per connection.
package navx

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/core"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/event"
	"github.com/nerrad567/ferrobot-core/internal/wire"
)

// Kind is the device kind of every NavX.
const Kind = device.KindNavX

// Command tags understood by the host.
const (
	TagCreate command.Tag = iota
	TagZeroYaw
)

// Connection is the port the NavX is attached to.
type Connection uint8

const (
	ConnectionSPI Connection = iota
	ConnectionUART
	ConnectionUSB1
	ConnectionUSB2
	ConnectionI2C
)

var connectionNames = map[Connection]string{
	ConnectionSPI:  "spi",
	ConnectionUART: "uart",
	ConnectionUSB1: "usb1",
	ConnectionUSB2: "usb2",
	ConnectionI2C:  "i2c",
}

func (c Connection) String() string {
	if name, ok := connectionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("connection(%d)", uint8(c))
}

// Valid reports whether c is a known port.
func (c Connection) Valid() bool {
	_, ok := connectionNames[c]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (c Connection) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Connection) UnmarshalText(b []byte) error {
	for conn, name := range connectionNames {
		if name == string(b) {
			*c = conn
			return nil
		}
	}
	return fmt.Errorf("navx: unknown connection %q", b)
}

var (
	// ErrGyroExists is wrapped when the host already drives a NavX on the
	// requested port.
	ErrGyroExists = errors.New("navx: gyro already exists")

	// ErrBadConnection is wrapped when the host cannot open the port.
	ErrBadConnection = errors.New("navx: connection unavailable")
)

// DataSize is the length of a NavX telemetry payload.
const DataSize = 1 + 2*8

// Data is one gyro sample: heading in degrees and turn rate in degrees
// per second.
type Data struct {
	Connected bool    `json:"connected"`
	Heading   float64 `json:"heading"`
	Rate      float64 `json:"rate"`
}

// Encode renders d in the wire layout: connected, heading, rate.
func (d Data) Encode() []byte {
	return wire.NewWriter(DataSize).Bool(d.Connected).F64(d.Heading).F64(d.Rate).Bytes()
}

// DecodeData parses a telemetry payload.
func DecodeData(payload []byte) (Data, error) {
	r := wire.NewReader(payload)
	d := Data{Connected: r.Bool(), Heading: r.F64(), Rate: r.F64()}
	if err := r.Err(); err != nil {
		return Data{}, err
	}
	return d, nil
}

// NavX is a handle to one gyro.
type NavX struct {
	id        device.Identity
	conn      Connection
	core      *core.Core
	telemetry *event.Event[Data]
	logger    core.Logger
}

// New registers a NavX on conn and has the host open it.
func New(ctx context.Context, c *core.Core, conn Connection) (*NavX, error) {
	if !conn.Valid() {
		return nil, device.Invalid("connection", conn, "unknown port")
	}

	g := &NavX{
		id:        device.Identity{Kind: Kind, ID: uint8(conn)},
		conn:      conn,
		core:      c,
		telemetry: event.New[Data](fmt.Sprintf("navx/%s/telemetry", conn)),
		logger:    c.Logger(),
	}

	if err := c.Registry().AddDevice(g.id); err != nil {
		return nil, err
	}

	resp, err := c.Execute(ctx, command.New(g.id, TagCreate, []byte{uint8(conn)}))
	if err == nil {
		err = responseError(g.id, resp)
	}
	if err != nil {
		if rmErr := c.Registry().RemoveDevice(g.id); rmErr != nil {
			g.logger.Warn("rollback of failed registration", "device", g.id.String(), "error", rmErr)
		}
		return nil, err
	}

	if err := c.Registry().SetTelemetryHandler(g.id, g.onTelemetry); err != nil {
		return nil, err
	}
	g.logger.Info("navx created", "device", g.id.String(), "connection", conn.String())
	return g, nil
}

// Identity returns the device identity.
func (g *NavX) Identity() device.Identity { return g.id }

// Connection returns the port the gyro is attached to.
func (g *NavX) Connection() Connection { return g.conn }

// Telemetry is emitted with every decoded sample.
func (g *NavX) Telemetry() *event.Event[Data] { return g.telemetry }

// OnData registers h for telemetry samples.
func (g *NavX) OnData(h event.Handler[Data]) *event.Subscription {
	return event.Register(g.core.Emitter(), g.telemetry, h)
}

// Data returns the most recent sample.
func (g *NavX) Data() (Data, bool) {
	payload, ok := g.core.Registry().Data(g.id)
	if !ok {
		return Data{}, false
	}
	d, err := DecodeData(payload)
	if err != nil {
		g.logger.Warn("undecodable navx telemetry", "device", g.id.String(), "error", err)
		return Data{}, false
	}
	return d, true
}

// ZeroYaw makes the current heading read as zero from the next tick on.
func (g *NavX) ZeroYaw(ctx context.Context) error {
	return g.core.Push(ctx, command.New(g.id, TagZeroYaw, nil))
}

// Close unregisters the gyro.
func (g *NavX) Close() error {
	return g.core.Registry().RemoveDevice(g.id)
}

func (g *NavX) onTelemetry(ctx context.Context, payload []byte) {
	d, err := DecodeData(payload)
	if err != nil {
		g.logger.Warn("undecodable navx telemetry", "device", g.id.String(), "error", err)
		return
	}
	event.Emit(ctx, g.core.Emitter(), g.telemetry, d)
}

func responseError(id device.Identity, resp command.Response) error {
	var sentinel error
	switch resp.Code {
	case command.ResponseOK:
		return nil
	case command.ResponseExists:
		sentinel = ErrGyroExists
	case command.ResponseBadConfig:
		sentinel = ErrBadConnection
	default:
		panic(fmt.Sprintf("navx: host reported %s for create on %s", resp.Code, id))
	}
	return &command.ProtocolError{Device: id, Tag: TagCreate, Response: resp, Err: sentinel}
}
