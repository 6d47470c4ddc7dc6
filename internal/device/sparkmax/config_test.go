package sparkmax

import (
	"errors"
	"math"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/ferrobot-core/internal/device"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"defaults", func(*Config) {}, ""},
		{"follower", func(c *Config) { c.Motor.LeaderID = 2 }, ""},
		{"follows itself", func(c *Config) { c.Motor.LeaderID = 9 }, "motor.leader_id"},
		{"unknown motor type", func(c *Config) { c.Motor.Type = 7 }, "motor.type"},
		{"negative current limit", func(c *Config) { c.Motor.CurrentLimit = -1 }, "motor.current_limit"},
		{"average depth not power of two", func(c *Config) { c.AbsoluteEncoder.AverageDepth = 3 }, "absolute_encoder.average_depth"},
		{"average depth zero", func(c *Config) { c.AbsoluteEncoder.AverageDepth = 0 }, "absolute_encoder.average_depth"},
		{"zero offset out of range", func(c *Config) { c.AbsoluteEncoder.ZeroOffset = 1 }, "absolute_encoder.zero_offset"},
		{"start pulse alone", func(c *Config) { c.AbsoluteEncoder.StartPulse = time.Microsecond }, "absolute_encoder.start_pulse"},
		{"pulses reversed", func(c *Config) {
			c.AbsoluteEncoder.StartPulse = 10 * time.Microsecond
			c.AbsoluteEncoder.EndPulse = 5 * time.Microsecond
		}, "absolute_encoder.end_pulse"},
		{"pulses set", func(c *Config) {
			c.AbsoluteEncoder.StartPulse = time.Microsecond
			c.AbsoluteEncoder.EndPulse = 1024 * time.Microsecond
		}, ""},
		{"zero position factor", func(c *Config) { c.AbsoluteEncoder.PositionFactor = 0 }, "absolute_encoder.position_factor"},
		{"NaN gain", func(c *Config) { c.ClosedLoop.P = math.NaN() }, "closed_loop.p"},
		{"min output below range", func(c *Config) { c.ClosedLoop.MinOutput = -1.01 }, "closed_loop.min_output"},
		{"max output above range", func(c *Config) { c.ClosedLoop.MaxOutput = 1.01 }, "closed_loop.max_output"},
		{"min above max", func(c *Config) {
			c.ClosedLoop.MinOutput = 0.5
			c.ClosedLoop.MaxOutput = 0.2
		}, "closed_loop.min_output"},
		{"wrap bounds reversed", func(c *Config) {
			c.ClosedLoop.PositionWrapping = true
			c.ClosedLoop.WrapMin = 1
			c.ClosedLoop.WrapMax = 0
		}, "closed_loop.wrap_max"},
		{"unknown sensor", func(c *Config) { c.ClosedLoop.FeedbackSensor = 9 }, "closed_loop.feedback_sensor"},
		{"quadrature depth too deep", func(c *Config) { c.RelativeEncoder.QuadratureAverageDepth = 128 }, "relative_encoder.quadrature_average_depth"},
		{"quadrature period too long", func(c *Config) {
			c.RelativeEncoder.QuadratureMeasurementPeriod = 101 * time.Millisecond
		}, "relative_encoder.quadrature_measurement_period"},
		{"uvw depth too deep", func(c *Config) { c.RelativeEncoder.UVWAverageDepth = 16 }, "relative_encoder.uvw_average_depth"},
		{"uvw period too short", func(c *Config) {
			c.RelativeEncoder.UVWMeasurementPeriod = 7 * time.Millisecond
		}, "relative_encoder.uvw_measurement_period"},
		{"uvw period upper bound", func(c *Config) {
			c.RelativeEncoder.UVWMeasurementPeriod = 64 * time.Millisecond
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate(9)

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			var ve *device.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestConfig_WireLayout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Motor = MotorConfig{Type: MotorBrushed, IdleMode: IdleBrake, LeaderID: 3, Inverted: true, CurrentLimit: 40, NominalVoltage: 12}
	cfg.AbsoluteEncoder.StartPulse = 3 * time.Microsecond
	cfg.AbsoluteEncoder.EndPulse = 1025 * time.Microsecond
	cfg.ClosedLoop = ClosedLoopConfig{P: 0.1, I: 0.001, D: 2, FF: 0.5, MinOutput: -0.5, MaxOutput: 0.75,
		PositionWrapping: true, WrapMin: 0, WrapMax: 1, FeedbackSensor: SensorAbsoluteEncoder}
	cfg.RelativeEncoder.CountsPerRevolution = 8192
	cfg.RelativeEncoder.QuadratureAverageDepth = 16

	got, err := DecodeConfig(EncodeConfig(cfg))
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if got != cfg {
		t.Errorf("DecodeConfig() = %+v, want %+v", got, cfg)
	}

	if _, err := DecodeConfig(EncodeConfig(cfg)[:10]); !errors.Is(err, device.ErrMalformedPayload) {
		t.Errorf("DecodeConfig(truncated) error = %v, want ErrMalformedPayload", err)
	}
}

func TestConfig_YAML(t *testing.T) {
	doc := `
motor:
  type: brushed
  idle_mode: brake
  current_limit: 30
closed_loop:
  p: 0.2
  feedback_sensor: absolute_encoder
relative_encoder:
  uvw_measurement_period: 16ms
`
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}

	if cfg.Motor.Type != MotorBrushed || cfg.Motor.IdleMode != IdleBrake {
		t.Errorf("motor = %+v", cfg.Motor)
	}
	if cfg.ClosedLoop.FeedbackSensor != SensorAbsoluteEncoder || cfg.ClosedLoop.P != 0.2 {
		t.Errorf("closed loop = %+v", cfg.ClosedLoop)
	}
	if cfg.RelativeEncoder.UVWMeasurementPeriod != 16*time.Millisecond {
		t.Errorf("uvw period = %v, want 16ms", cfg.RelativeEncoder.UVWMeasurementPeriod)
	}
	// Fields absent from the document keep their defaults.
	if cfg.ClosedLoop.MaxOutput != 1 || cfg.AbsoluteEncoder.AverageDepth != 128 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if err := cfg.Validate(1); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	bad := DefaultConfig()
	if err := yaml.Unmarshal([]byte("motor:\n  type: stepper\n"), &bad); err == nil {
		t.Error("yaml.Unmarshal() accepted unknown motor type")
	}
}

func TestDecodeData(t *testing.T) {
	if _, err := DecodeData(make([]byte, DataSize-1)); !errors.Is(err, device.ErrMalformedPayload) {
		t.Errorf("DecodeData(short) error = %v, want ErrMalformedPayload", err)
	}
	if _, err := DecodeData(make([]byte, DataSize+1)); !errors.Is(err, device.ErrMalformedPayload) {
		t.Errorf("DecodeData(long) error = %v, want ErrMalformedPayload", err)
	}
	if len((Data{}).Encode()) != DataSize {
		t.Errorf("Encode() len = %d, want %d", len((Data{}).Encode()), DataSize)
	}
}
