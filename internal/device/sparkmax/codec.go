package sparkmax

import (
	"time"

	"github.com/nerrad567/ferrobot-core/internal/wire"
)

// DataSize is the length of a SPARK MAX telemetry payload.
const DataSize = 1 + 4*8

// Data is one telemetry sample. Position is in rotations, velocity in
// rpm, current in amps and output is the applied duty cycle in [-1, 1].
type Data struct {
	Connected bool    `json:"connected"`
	Output    float64 `json:"output"`
	Position  float64 `json:"position"`
	Velocity  float64 `json:"velocity"`
	Current   float64 `json:"current"`
}

// Encode renders d in the wire layout: connected, output, position,
// velocity, current.
func (d Data) Encode() []byte {
	return wire.NewWriter(DataSize).
		Bool(d.Connected).
		F64(d.Output).
		F64(d.Position).
		F64(d.Velocity).
		F64(d.Current).
		Bytes()
}

// DecodeData parses a telemetry payload.
func DecodeData(payload []byte) (Data, error) {
	r := wire.NewReader(payload)
	d := Data{
		Connected: r.Bool(),
		Output:    r.F64(),
		Position:  r.F64(),
		Velocity:  r.F64(),
		Current:   r.F64(),
	}
	if err := r.Err(); err != nil {
		return Data{}, err
	}
	return d, nil
}

// EncodeSetpoint renders the payload of a set-point command.
func EncodeSetpoint(v float64) []byte {
	return wire.NewWriter(8).F64(v).Bytes()
}

// DecodeSetpoint parses a set-point command payload.
func DecodeSetpoint(payload []byte) (float64, error) {
	r := wire.NewReader(payload)
	v := r.F64()
	return v, r.Err()
}

// EncodeConfig renders cfg in the fixed wire layout used by the create and
// configure commands. Durations travel as whole microseconds (pulses) or
// milliseconds (measurement periods).
func EncodeConfig(cfg Config) []byte {
	w := wire.NewWriter(160)

	m := cfg.Motor
	w.U8(uint8(m.Type)).U8(uint8(m.IdleMode)).U8(m.LeaderID).Bool(m.Inverted).
		F64(m.CurrentLimit).F64(m.NominalVoltage)

	a := cfg.AbsoluteEncoder
	w.Bool(a.Inverted).F64(a.PositionFactor).F64(a.VelocityFactor).F64(a.ZeroOffset).
		U8(a.AverageDepth).I64(a.StartPulse.Microseconds()).I64(a.EndPulse.Microseconds()).
		Bool(a.ZeroCentered)

	c := cfg.ClosedLoop
	w.F64(c.P).F64(c.I).F64(c.D).F64(c.FF).F64(c.MaxIntegral).F64(c.IntegralZone).
		F64(c.MinOutput).F64(c.MaxOutput).
		Bool(c.PositionWrapping).F64(c.WrapMin).F64(c.WrapMax).
		U8(uint8(c.FeedbackSensor))

	r := cfg.RelativeEncoder
	w.U32(r.CountsPerRevolution).Bool(r.Inverted).F64(r.PositionFactor).F64(r.VelocityFactor).
		U8(r.QuadratureAverageDepth).U8(uint8(r.QuadratureMeasurementPeriod.Milliseconds())).
		U8(r.UVWAverageDepth).U8(uint8(r.UVWMeasurementPeriod.Milliseconds()))

	return w.Bytes()
}

// DecodeConfig parses a payload produced by EncodeConfig. It does not
// validate the result.
func DecodeConfig(payload []byte) (Config, error) {
	rd := wire.NewReader(payload)
	var cfg Config

	m := &cfg.Motor
	m.Type = MotorType(rd.U8())
	m.IdleMode = IdleMode(rd.U8())
	m.LeaderID = rd.U8()
	m.Inverted = rd.Bool()
	m.CurrentLimit = rd.F64()
	m.NominalVoltage = rd.F64()

	a := &cfg.AbsoluteEncoder
	a.Inverted = rd.Bool()
	a.PositionFactor = rd.F64()
	a.VelocityFactor = rd.F64()
	a.ZeroOffset = rd.F64()
	a.AverageDepth = rd.U8()
	a.StartPulse = time.Duration(rd.I64()) * time.Microsecond
	a.EndPulse = time.Duration(rd.I64()) * time.Microsecond
	a.ZeroCentered = rd.Bool()

	c := &cfg.ClosedLoop
	c.P = rd.F64()
	c.I = rd.F64()
	c.D = rd.F64()
	c.FF = rd.F64()
	c.MaxIntegral = rd.F64()
	c.IntegralZone = rd.F64()
	c.MinOutput = rd.F64()
	c.MaxOutput = rd.F64()
	c.PositionWrapping = rd.Bool()
	c.WrapMin = rd.F64()
	c.WrapMax = rd.F64()
	c.FeedbackSensor = FeedbackSensor(rd.U8())

	r := &cfg.RelativeEncoder
	r.CountsPerRevolution = rd.U32()
	r.Inverted = rd.Bool()
	r.PositionFactor = rd.F64()
	r.VelocityFactor = rd.F64()
	r.QuadratureAverageDepth = rd.U8()
	r.QuadratureMeasurementPeriod = time.Duration(rd.U8()) * time.Millisecond
	r.UVWAverageDepth = rd.U8()
	r.UVWMeasurementPeriod = time.Duration(rd.U8()) * time.Millisecond

	if err := rd.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
