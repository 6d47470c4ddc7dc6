package sparkmax

import (
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/device"
)

// MotorType selects the commutation mode of the attached motor.
type MotorType uint8

const (
	MotorBrushless MotorType = iota
	MotorBrushed
)

var motorTypeNames = map[MotorType]string{
	MotorBrushless: "brushless",
	MotorBrushed:   "brushed",
}

func (m MotorType) String() string { return enumString(motorTypeNames, m) }

// MarshalText implements encoding.TextMarshaler.
func (m MotorType) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MotorType) UnmarshalText(b []byte) error { return enumParse(motorTypeNames, m, "motor type", b) }

// IdleMode is the controller's behaviour when output is zero.
type IdleMode uint8

const (
	IdleCoast IdleMode = iota
	IdleBrake
)

var idleModeNames = map[IdleMode]string{
	IdleCoast: "coast",
	IdleBrake: "brake",
}

func (m IdleMode) String() string { return enumString(idleModeNames, m) }

// MarshalText implements encoding.TextMarshaler.
func (m IdleMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *IdleMode) UnmarshalText(b []byte) error { return enumParse(idleModeNames, m, "idle mode", b) }

// FeedbackSensor selects the closed-loop controller's input.
type FeedbackSensor uint8

const (
	SensorNone FeedbackSensor = iota
	SensorRelativeEncoder
	SensorAnalog
	SensorAlternateEncoder
	SensorAbsoluteEncoder
)

var feedbackSensorNames = map[FeedbackSensor]string{
	SensorNone:             "none",
	SensorRelativeEncoder:  "relative_encoder",
	SensorAnalog:           "analog",
	SensorAlternateEncoder: "alternate_encoder",
	SensorAbsoluteEncoder:  "absolute_encoder",
}

func (s FeedbackSensor) String() string { return enumString(feedbackSensorNames, s) }

// MarshalText implements encoding.TextMarshaler.
func (s FeedbackSensor) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *FeedbackSensor) UnmarshalText(b []byte) error {
	return enumParse(feedbackSensorNames, s, "feedback sensor", b)
}

func enumString[E ~uint8](names map[E]string, v E) string {
	if name, ok := names[v]; ok {
		return name
	}
	return fmt.Sprintf("%d", uint8(v))
}

func enumParse[E ~uint8](names map[E]string, dst *E, what string, b []byte) error {
	for v, name := range names {
		if name == string(b) {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("sparkmax: unknown %s %q", what, b)
}

// AbsoluteEncoderConfig configures a duty-cycle absolute encoder.
type AbsoluteEncoderConfig struct {
	Inverted       bool    `yaml:"inverted" json:"inverted"`
	PositionFactor float64 `yaml:"position_factor" json:"position_factor"`
	VelocityFactor float64 `yaml:"velocity_factor" json:"velocity_factor"`
	// ZeroOffset is the raw reading, in rotations, that should report as zero.
	ZeroOffset   float64 `yaml:"zero_offset" json:"zero_offset"`
	AverageDepth uint8   `yaml:"average_depth" json:"average_depth"`
	// StartPulse and EndPulse are applied only when both are non-zero.
	StartPulse   time.Duration `yaml:"start_pulse" json:"start_pulse"`
	EndPulse     time.Duration `yaml:"end_pulse" json:"end_pulse"`
	ZeroCentered bool          `yaml:"zero_centered" json:"zero_centered"`
}

// ClosedLoopConfig configures the on-controller PIDF loop.
type ClosedLoopConfig struct {
	P  float64 `yaml:"p" json:"p"`
	I  float64 `yaml:"i" json:"i"`
	D  float64 `yaml:"d" json:"d"`
	FF float64 `yaml:"ff" json:"ff"`

	// MaxIntegral and IntegralZone are left at the controller default when
	// zero.
	MaxIntegral  float64 `yaml:"max_integral" json:"max_integral"`
	IntegralZone float64 `yaml:"integral_zone" json:"integral_zone"`

	MinOutput float64 `yaml:"min_output" json:"min_output"`
	MaxOutput float64 `yaml:"max_output" json:"max_output"`

	PositionWrapping bool    `yaml:"position_wrapping" json:"position_wrapping"`
	WrapMin          float64 `yaml:"wrap_min" json:"wrap_min"`
	WrapMax          float64 `yaml:"wrap_max" json:"wrap_max"`

	FeedbackSensor FeedbackSensor `yaml:"feedback_sensor" json:"feedback_sensor"`
}

// RelativeEncoderConfig configures the built-in or quadrature encoder.
// Zero values for CountsPerRevolution and QuadratureAverageDepth leave the
// controller defaults in place.
type RelativeEncoderConfig struct {
	CountsPerRevolution uint32  `yaml:"counts_per_revolution" json:"counts_per_revolution"`
	Inverted            bool    `yaml:"inverted" json:"inverted"`
	PositionFactor      float64 `yaml:"position_factor" json:"position_factor"`
	VelocityFactor      float64 `yaml:"velocity_factor" json:"velocity_factor"`

	QuadratureAverageDepth      uint8         `yaml:"quadrature_average_depth" json:"quadrature_average_depth"`
	QuadratureMeasurementPeriod time.Duration `yaml:"quadrature_measurement_period" json:"quadrature_measurement_period"`
	UVWAverageDepth             uint8         `yaml:"uvw_average_depth" json:"uvw_average_depth"`
	UVWMeasurementPeriod        time.Duration `yaml:"uvw_measurement_period" json:"uvw_measurement_period"`
}

// MotorConfig describes the motor itself.
type MotorConfig struct {
	Type     MotorType `yaml:"type" json:"type"`
	IdleMode IdleMode  `yaml:"idle_mode" json:"idle_mode"`

	// LeaderID puts the controller in follow mode when non-zero. Inverted
	// then inverts relative to the leader.
	LeaderID uint8 `yaml:"leader_id" json:"leader_id"`
	Inverted bool  `yaml:"inverted" json:"inverted"`

	// CurrentLimit (amps) and NominalVoltage (volts) are disabled at zero.
	CurrentLimit   float64 `yaml:"current_limit" json:"current_limit"`
	NominalVoltage float64 `yaml:"nominal_voltage" json:"nominal_voltage"`
}

// Config is the full controller configuration sent at construction.
type Config struct {
	Motor           MotorConfig           `yaml:"motor" json:"motor"`
	AbsoluteEncoder AbsoluteEncoderConfig `yaml:"absolute_encoder" json:"absolute_encoder"`
	ClosedLoop      ClosedLoopConfig      `yaml:"closed_loop" json:"closed_loop"`
	RelativeEncoder RelativeEncoderConfig `yaml:"relative_encoder" json:"relative_encoder"`
}

// DefaultConfig returns the factory configuration for a brushless motor.
func DefaultConfig() Config {
	return Config{
		Motor: MotorConfig{
			Type:     MotorBrushless,
			IdleMode: IdleCoast,
		},
		AbsoluteEncoder: AbsoluteEncoderConfig{
			PositionFactor: 1,
			VelocityFactor: 1,
			AverageDepth:   128,
		},
		ClosedLoop: ClosedLoopConfig{
			MinOutput:      -1,
			MaxOutput:      1,
			FeedbackSensor: SensorRelativeEncoder,
		},
		RelativeEncoder: RelativeEncoderConfig{
			PositionFactor:              1,
			VelocityFactor:              1,
			QuadratureMeasurementPeriod: 100 * time.Millisecond,
			UVWAverageDepth:             8,
			UVWMeasurementPeriod:        32 * time.Millisecond,
		},
	}
}

// Validate checks cfg for a controller at canID. It returns the first
// problem found as a *device.ValidationError.
func (c Config) Validate(canID uint8) error {
	checks := []error{
		c.Motor.validate(canID),
		c.AbsoluteEncoder.validate(),
		c.ClosedLoop.validate(),
		c.RelativeEncoder.validate(),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

func (m MotorConfig) validate(canID uint8) error {
	if _, ok := motorTypeNames[m.Type]; !ok {
		return device.Invalid("motor.type", m.Type, "unknown motor type")
	}
	if _, ok := idleModeNames[m.IdleMode]; !ok {
		return device.Invalid("motor.idle_mode", m.IdleMode, "unknown idle mode")
	}
	if m.LeaderID != 0 && m.LeaderID == canID {
		return device.Invalid("motor.leader_id", m.LeaderID, "a controller cannot follow itself")
	}
	if !finite(m.CurrentLimit) || m.CurrentLimit < 0 {
		return device.Invalid("motor.current_limit", m.CurrentLimit, "must be a non-negative number")
	}
	if !finite(m.NominalVoltage) || m.NominalVoltage < 0 {
		return device.Invalid("motor.nominal_voltage", m.NominalVoltage, "must be a non-negative number")
	}
	return nil
}

func (a AbsoluteEncoderConfig) validate() error {
	if err := validFactor("absolute_encoder.position_factor", a.PositionFactor); err != nil {
		return err
	}
	if err := validFactor("absolute_encoder.velocity_factor", a.VelocityFactor); err != nil {
		return err
	}
	if !finite(a.ZeroOffset) || a.ZeroOffset < 0 || a.ZeroOffset >= 1 {
		return device.Invalid("absolute_encoder.zero_offset", a.ZeroOffset, "must be within [0, 1)")
	}
	if !powerOfTwo(a.AverageDepth, 128) {
		return device.Invalid("absolute_encoder.average_depth", a.AverageDepth, "must be a power of two up to 128")
	}
	if (a.StartPulse == 0) != (a.EndPulse == 0) {
		return device.Invalid("absolute_encoder.start_pulse", a.StartPulse, "start and end pulse must be set together")
	}
	if a.StartPulse < 0 || a.EndPulse < 0 || (a.StartPulse > 0 && a.StartPulse >= a.EndPulse) {
		return device.Invalid("absolute_encoder.end_pulse", a.EndPulse, "must be positive and greater than start pulse")
	}
	return nil
}

func (c ClosedLoopConfig) validate() error {
	gains := []struct {
		field string
		v     float64
	}{
		{"closed_loop.p", c.P},
		{"closed_loop.i", c.I},
		{"closed_loop.d", c.D},
		{"closed_loop.ff", c.FF},
		{"closed_loop.max_integral", c.MaxIntegral},
		{"closed_loop.integral_zone", c.IntegralZone},
	}
	for _, g := range gains {
		if !finite(g.v) || g.v < 0 {
			return device.Invalid(g.field, g.v, "must be a non-negative number")
		}
	}
	if !unitRange(c.MinOutput) {
		return device.Invalid("closed_loop.min_output", c.MinOutput, "must be within [-1, 1]")
	}
	if !unitRange(c.MaxOutput) {
		return device.Invalid("closed_loop.max_output", c.MaxOutput, "must be within [-1, 1]")
	}
	if c.MinOutput > c.MaxOutput {
		return device.Invalid("closed_loop.min_output", c.MinOutput, "must not exceed max_output")
	}
	if c.PositionWrapping {
		if !finite(c.WrapMin) || !finite(c.WrapMax) || c.WrapMin >= c.WrapMax {
			return device.Invalid("closed_loop.wrap_max", c.WrapMax, "must be greater than wrap_min")
		}
	}
	if _, ok := feedbackSensorNames[c.FeedbackSensor]; !ok {
		return device.Invalid("closed_loop.feedback_sensor", c.FeedbackSensor, "unknown sensor")
	}
	return nil
}

func (r RelativeEncoderConfig) validate() error {
	if err := validFactor("relative_encoder.position_factor", r.PositionFactor); err != nil {
		return err
	}
	if err := validFactor("relative_encoder.velocity_factor", r.VelocityFactor); err != nil {
		return err
	}
	if r.QuadratureAverageDepth != 0 && !powerOfTwo(r.QuadratureAverageDepth, 64) {
		return device.Invalid("relative_encoder.quadrature_average_depth", r.QuadratureAverageDepth, "must be a power of two up to 64")
	}
	if p := r.QuadratureMeasurementPeriod; p < time.Millisecond || p > 100*time.Millisecond {
		return device.Invalid("relative_encoder.quadrature_measurement_period", p, "must be within [1ms, 100ms]")
	}
	if !powerOfTwo(r.UVWAverageDepth, 8) {
		return device.Invalid("relative_encoder.uvw_average_depth", r.UVWAverageDepth, "must be 1, 2, 4 or 8")
	}
	if p := r.UVWMeasurementPeriod; p < 8*time.Millisecond || p > 64*time.Millisecond {
		return device.Invalid("relative_encoder.uvw_measurement_period", p, "must be within [8ms, 64ms]")
	}
	return nil
}

func validFactor(field string, v float64) error {
	if !finite(v) || v == 0 {
		return device.Invalid(field, v, "must be a non-zero number")
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func unitRange(v float64) bool {
	return v >= -1 && v <= 1
}

func powerOfTwo(v, limit uint8) bool {
	return v != 0 && v&(v-1) == 0 && v <= limit
}
