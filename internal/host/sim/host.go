// Package sim is an in-process host that drives a core the way the robot
// control loop does: once per tick it collects queued commands, applies
// them to simulated hardware, and supplies a telemetry snapshot.
//
// It answers construction commands synchronously with the same verdicts as
// the hardware container: duplicate creates are refused, and
// configurations are validated before a device is brought up.
package sim

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/core"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/device/navx"
	"github.com/nerrad567/ferrobot-core/internal/device/sparkmax"
)

// Logger defines the logging interface used by the Host.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Free speeds in rpm at full output.
const (
	brushlessFreeSpeed = 5676.0
	brushedFreeSpeed   = 5310.0
	stallCurrent       = 105.0
	velocityTimeConst  = 50 * time.Millisecond
)

type controlMode uint8

const (
	controlOutput controlMode = iota
	controlVelocity
	controlPosition
)

type motor struct {
	cfg      sparkmax.Config
	mode     controlMode
	target   float64
	output   float64
	position float64
	velocity float64
	current  float64
}

type gyro struct {
	heading float64
	offset  float64
	rate    float64
}

// Host simulates the hardware side of the boundary.
type Host struct {
	mu       sync.Mutex
	core     *core.Core
	mode     device.Mode
	motors   map[uint8]*motor
	gyros    map[navx.Connection]*gyro
	observer func([]command.Command)
	ticks    uint64
	logger   Logger
}

// New creates a host with no devices. Attach must be called before Tick.
func New() *Host {
	return &Host{
		motors: make(map[uint8]*motor),
		gyros:  make(map[navx.Connection]*gyro),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the host.
func (h *Host) SetLogger(logger Logger) {
	h.logger = logger
}

// Attach binds the core the host drives.
func (h *Host) Attach(c *core.Core) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.core = c
}

// SetMode sets the robot mode reported from the next tick.
func (h *Host) SetMode(mode device.Mode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = mode
}

// SetGyroRate sets the simulated turn rate of the gyro on conn.
func (h *Host) SetGyroRate(conn navx.Connection, degPerSec float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok := h.gyros[conn]; ok {
		g.rate = degPerSec
	}
}

// Observe registers fn to see every collected batch before it is applied
// and released. fn must not retain the commands.
func (h *Host) Observe(fn func([]command.Command)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = fn
}

// Ticks returns the number of completed ticks.
func (h *Host) Ticks() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks
}

// Execute answers a synchronous command. It implements command.Executor.
func (h *Host) Execute(_ context.Context, cmd command.Command) command.Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch cmd.Device.Kind {
	case sparkmax.Kind:
		return h.executeSparkMax(cmd)
	case navx.Kind:
		return h.executeNavX(cmd)
	default:
		h.logger.Error("execute for unknown device kind", "kind", uint8(cmd.Device.Kind))
		return command.Response{Code: command.ResponseBadCommand}
	}
}

func (h *Host) executeSparkMax(cmd command.Command) command.Response {
	canID := cmd.Device.ID
	switch cmd.Tag {
	case sparkmax.TagCreate:
		if _, exists := h.motors[canID]; exists {
			return command.Response{Code: command.ResponseExists}
		}
		cfg, ok := h.decodeConfig(cmd)
		if !ok {
			return command.Response{Code: command.ResponseBadConfig}
		}
		h.motors[canID] = &motor{cfg: cfg}
		h.logger.Info("simulated spark max created", "can_id", canID)
		return command.Response{Code: command.ResponseOK}

	case sparkmax.TagConfigure:
		m, exists := h.motors[canID]
		if !exists {
			return command.Response{Code: command.ResponseBadConfig}
		}
		cfg, ok := h.decodeConfig(cmd)
		if !ok {
			return command.Response{Code: command.ResponseBadConfig}
		}
		m.cfg = cfg
		return command.Response{Code: command.ResponseOK}

	default:
		h.logger.Error("unexpected synchronous spark max command", "can_id", canID, "tag", cmd.Tag)
		return command.Response{Code: command.ResponseBadCommand}
	}
}

func (h *Host) decodeConfig(cmd command.Command) (sparkmax.Config, bool) {
	cfg, err := sparkmax.DecodeConfig(cmd.Payload())
	if err != nil {
		h.logger.Warn("undecodable spark max config", "device", cmd.Device.String(), "error", err)
		return sparkmax.Config{}, false
	}
	if err := cfg.Validate(cmd.Device.ID); err != nil {
		h.logger.Warn("rejected spark max config", "device", cmd.Device.String(), "error", err)
		return sparkmax.Config{}, false
	}
	return cfg, true
}

func (h *Host) executeNavX(cmd command.Command) command.Response {
	if cmd.Tag != navx.TagCreate {
		h.logger.Error("unexpected synchronous navx command", "tag", cmd.Tag)
		return command.Response{Code: command.ResponseBadCommand}
	}
	payload := cmd.Payload()
	if len(payload) != 1 || !navx.Connection(payload[0]).Valid() {
		return command.Response{Code: command.ResponseBadConfig}
	}
	conn := navx.Connection(payload[0])
	if _, exists := h.gyros[conn]; exists {
		return command.Response{Code: command.ResponseExists}
	}
	h.gyros[conn] = &gyro{}
	h.logger.Info("simulated navx created", "connection", conn.String())
	return command.Response{Code: command.ResponseOK}
}

// Tick runs one control period of length dt: collect, apply, release,
// simulate, supply.
func (h *Host) Tick(dt time.Duration) {
	h.mu.Lock()
	c := h.core
	observer := h.observer
	h.mu.Unlock()
	if c == nil {
		return
	}

	cmds := c.Collect()
	if observer != nil && len(cmds) > 0 {
		observer(cmds)
	}

	h.mu.Lock()
	for _, cmd := range cmds {
		h.apply(cmd)
		c.Release(cmd)
	}
	h.step(dt)
	snapshot := h.snapshot()
	h.ticks++
	h.mu.Unlock()

	c.Supply(snapshot)
}

// Run ticks every period until ctx is cancelled.
func (h *Host) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	h.logger.Info("simulated host running", "period", period.String())
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("simulated host stopped", "ticks", h.Ticks())
			return nil
		case <-ticker.C:
			h.Tick(period)
		}
	}
}

func (h *Host) apply(cmd command.Command) {
	switch cmd.Device.Kind {
	case sparkmax.Kind:
		h.applySparkMax(cmd)
	case navx.Kind:
		h.applyNavX(cmd)
	default:
		h.logger.Error("command for unknown device kind", "kind", uint8(cmd.Device.Kind))
	}
}

func (h *Host) applySparkMax(cmd command.Command) {
	m, ok := h.motors[cmd.Device.ID]
	if !ok {
		h.logger.Warn("command for unknown spark max", "can_id", cmd.Device.ID)
		return
	}

	var mode controlMode
	switch cmd.Tag {
	case sparkmax.TagSetOutput:
		mode = controlOutput
	case sparkmax.TagSetVelocity:
		mode = controlVelocity
	case sparkmax.TagSetPosition:
		mode = controlPosition
	default:
		h.logger.Error("unknown spark max command type", "can_id", cmd.Device.ID, "tag", cmd.Tag)
		return
	}

	v, err := sparkmax.DecodeSetpoint(cmd.Payload())
	if err != nil {
		h.logger.Warn("undecodable set-point", "device", cmd.Device.String(), "error", err)
		return
	}
	m.mode = mode
	m.target = v
}

func (h *Host) applyNavX(cmd command.Command) {
	g, ok := h.gyros[navx.Connection(cmd.Device.ID)]
	if !ok {
		h.logger.Warn("command for unknown navx", "device", cmd.Device.String())
		return
	}
	switch cmd.Tag {
	case navx.TagZeroYaw:
		g.offset = g.heading
	default:
		h.logger.Error("unknown navx command type", "tag", cmd.Tag)
	}
}

// step advances every simulated device by dt.
func (h *Host) step(dt time.Duration) {
	enabled := h.mode.Enabled()
	alpha := math.Min(1, float64(dt)/float64(velocityTimeConst))
	seconds := dt.Seconds()

	// Leaders first, so followers see this tick's output.
	ids := make([]uint8, 0, len(h.motors))
	for id := range h.motors {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uint8) int {
		la, lb := h.motors[a].cfg.Motor.LeaderID != 0, h.motors[b].cfg.Motor.LeaderID != 0
		switch {
		case la == lb:
			return int(a) - int(b)
		case lb:
			return -1
		default:
			return 1
		}
	})

	for _, id := range ids {
		m := h.motors[id]
		out := 0.0
		if enabled {
			out = h.demand(m)
		}
		m.output = out

		free := brushlessFreeSpeed
		if m.cfg.Motor.Type == sparkmax.MotorBrushed {
			free = brushedFreeSpeed
		}
		m.velocity += (out*free - m.velocity) * alpha
		m.position += m.velocity / 60 * seconds

		m.current = math.Abs(out) * stallCurrent * (1 - math.Abs(m.velocity)/free)
		if limit := m.cfg.Motor.CurrentLimit; limit > 0 {
			m.current = math.Min(m.current, limit)
		}
	}

	for _, g := range h.gyros {
		g.heading += g.rate * seconds
	}
}

// demand computes the duty cycle a motor applies this tick.
func (h *Host) demand(m *motor) float64 {
	if leader := m.cfg.Motor.LeaderID; leader != 0 {
		lm, ok := h.motors[leader]
		if !ok {
			return 0
		}
		if m.cfg.Motor.Inverted {
			return -lm.output
		}
		return lm.output
	}

	loop := m.cfg.ClosedLoop
	free := brushlessFreeSpeed
	if m.cfg.Motor.Type == sparkmax.MotorBrushed {
		free = brushedFreeSpeed
	}

	var out float64
	switch m.mode {
	case controlOutput:
		return clamp(m.target, -1, 1)
	case controlVelocity:
		out = m.target/free + loop.P*(m.target-m.velocity)/free
	case controlPosition:
		p := loop.P
		if p == 0 {
			p = 1
		}
		out = p * (m.target - m.position)
	}
	return clamp(out, loop.MinOutput, loop.MaxOutput)
}

func (h *Host) snapshot() device.Snapshot {
	records := make([]device.Record, 0, len(h.motors)+len(h.gyros))
	for id, m := range h.motors {
		d := sparkmax.Data{
			Connected: true,
			Output:    m.output,
			Position:  m.position * m.cfg.RelativeEncoder.PositionFactor,
			Velocity:  m.velocity * m.cfg.RelativeEncoder.VelocityFactor,
			Current:   m.current,
		}
		records = append(records, device.Record{
			Device:  device.Identity{Kind: sparkmax.Kind, ID: id},
			Payload: d.Encode(),
		})
	}
	for conn, g := range h.gyros {
		d := navx.Data{Connected: true, Heading: g.heading - g.offset, Rate: g.rate}
		records = append(records, device.Record{
			Device:  device.Identity{Kind: navx.Kind, ID: uint8(conn)},
			Payload: d.Encode(),
		})
	}
	slices.SortFunc(records, func(a, b device.Record) int { return a.Device.Compare(b.Device) })
	return device.Snapshot{Mode: h.mode, Records: records}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
