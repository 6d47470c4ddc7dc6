// Package core is the device-state synchronization and event-dispatch
// layer that sits between the host's control loop and application code.
//
// A Core is created once with Start and then driven by two boundary calls
// made by the host every tick:
//
//   - Supply hands over the latest telemetry snapshot. It replaces the
//     cache and schedules handler dispatch in the background.
//   - Collect drains every command queued since the previous tick. The
//     host handles each command and hands it back with Release.
//
// Device façades use Execute for the few commands that need an immediate
// host verdict (construction) and Push for everything else.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/event"
	"github.com/nerrad567/ferrobot-core/internal/wire"
)

var (
	// ErrStopped is returned by calls made after Shutdown.
	ErrStopped = errors.New("core: stopped")

	// ErrNoHost is returned by Execute when Start was given no host.
	ErrNoHost = errors.New("core: no host executor configured")
)

// Logger defines the logging interface used by the core. It is satisfied
// by *logging.Logger.
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

// Options configures Start.
type Options struct {
	// Host answers synchronous construction commands.
	Host command.Executor

	// Queue bounds the outbound command queue. The zero value means
	// command.DefaultQueueConfig().
	Queue command.QueueConfig

	// EmitPolicy selects which devices receive telemetry after Supply.
	// Empty means device.EmitEveryTick.
	EmitPolicy device.EmitPolicy

	Logger Logger
}

// Stats is a point-in-time view of the core.
type Stats struct {
	Mode        string             `json:"mode"`
	Registry    device.Stats       `json:"registry"`
	Queue       command.QueueStats `json:"queue"`
	Channels    int                `json:"event_channels"`
	ActiveTasks int                `json:"active_tasks"`
	Supplies    uint64             `json:"supplies"`
}

// Core owns the registry, cache, command queue, emitter and background
// runtime for one host.
type Core struct {
	registry *device.Registry
	queue    *command.Queue
	emitter  *event.Emitter
	runtime  *Runtime
	host     command.Executor
	logger   Logger

	modeMu      sync.RWMutex
	mode        device.Mode
	modeChanged *event.Event[device.Mode]

	supplies atomic.Uint64
	stopped  atomic.Bool
}

// Start creates a core. Background tasks outlive ctx cancellation and end
// only at Shutdown; ctx supplies values such as trace IDs.
func Start(ctx context.Context, opts Options) (*Core, error) {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Queue == (command.QueueConfig{}) {
		opts.Queue = command.DefaultQueueConfig()
	}
	if opts.Queue.Overflow == "" {
		opts.Queue.Overflow = command.OverflowDropOldest
	}
	if err := opts.Queue.Validate(); err != nil {
		return nil, fmt.Errorf("core: queue config: %w", err)
	}
	if opts.EmitPolicy == "" {
		opts.EmitPolicy = device.EmitEveryTick
	}
	if !opts.EmitPolicy.Valid() {
		return nil, fmt.Errorf("core: unknown emit policy %q", opts.EmitPolicy)
	}

	rt := newRuntime(ctx, opts.Logger)

	registry := device.NewRegistry(rt)
	registry.SetLogger(opts.Logger)
	registry.SetEmitPolicy(opts.EmitPolicy)

	queue := command.NewQueue(opts.Queue)
	queue.SetLogger(opts.Logger)

	emitter := event.NewEmitter()
	emitter.SetLogger(opts.Logger)

	c := &Core{
		registry:    registry,
		queue:       queue,
		emitter:     emitter,
		runtime:     rt,
		host:        opts.Host,
		logger:      opts.Logger,
		modeChanged: event.New[device.Mode]("mode_changed"),
	}

	opts.Logger.Info("core started",
		"queue_capacity", opts.Queue.Capacity,
		"overflow", string(opts.Queue.Overflow),
		"emit_policy", string(opts.EmitPolicy),
	)
	return c, nil
}

// Registry returns the device registry and telemetry cache.
func (c *Core) Registry() *device.Registry { return c.registry }

// Emitter returns the event emitter shared by all façades.
func (c *Core) Emitter() *event.Emitter { return c.emitter }

// Runtime returns the background task runtime.
func (c *Core) Runtime() *Runtime { return c.runtime }

// Logger returns the core's logger.
func (c *Core) Logger() Logger { return c.logger }

// Supply installs snapshot as the current telemetry and returns without
// waiting for handlers. Ownership of the snapshot passes to the core.
func (c *Core) Supply(snapshot device.Snapshot) {
	if c.stopped.Load() {
		c.logger.Debug("snapshot dropped after shutdown", "records", len(snapshot.Records))
		return
	}
	c.supplies.Add(1)
	c.setMode(snapshot.Mode)
	c.registry.Replace(snapshot)
}

// Collect removes and returns every queued command in FIFO order. The
// host owns the returned commands and must Release each one.
func (c *Core) Collect() []command.Command {
	return c.queue.DrainAll()
}

// Release returns a collected command's frame. Releasing the same command
// twice, or a command of an unknown kind, panics.
func (c *Core) Release(cmd command.Command) {
	wire.Release(cmd.Frame)
}

// Push queues cmd for the next Collect. The target device must be
// registered. On success the core owns cmd; on failure its frame has been
// released.
func (c *Core) Push(ctx context.Context, cmd command.Command) error {
	if c.stopped.Load() {
		wire.Release(cmd.Frame)
		return ErrStopped
	}
	if !c.registry.DeviceExists(cmd.Device) {
		wire.Release(cmd.Frame)
		return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, cmd.Device)
	}
	if err := c.queue.Push(ctx, cmd); err != nil {
		wire.Release(cmd.Frame)
		return err
	}
	return nil
}

// Execute runs cmd on the host synchronously and releases its frame
// afterwards.
func (c *Core) Execute(ctx context.Context, cmd command.Command) (command.Response, error) {
	defer wire.Release(cmd.Frame)

	if c.stopped.Load() {
		return command.Response{}, ErrStopped
	}
	if c.host == nil {
		return command.Response{}, ErrNoHost
	}
	if err := ctx.Err(); err != nil {
		return command.Response{}, err
	}

	resp := c.host.Execute(ctx, cmd)
	c.logger.Debug("command executed",
		"device", cmd.Device.String(),
		"tag", cmd.Tag,
		"command_id", cmd.ID,
		"response", resp.Code.String(),
	)
	return resp, nil
}

// Mode returns the robot mode from the most recent snapshot.
func (c *Core) Mode() device.Mode {
	c.modeMu.RLock()
	defer c.modeMu.RUnlock()
	return c.mode
}

// ModeChanged is emitted, with the new mode, when a snapshot reports a
// mode different from the previous one.
func (c *Core) ModeChanged() *event.Event[device.Mode] {
	return c.modeChanged
}

func (c *Core) setMode(mode device.Mode) {
	c.modeMu.Lock()
	if c.mode == mode {
		c.modeMu.Unlock()
		return
	}
	prev := c.mode
	c.mode = mode
	c.modeMu.Unlock()

	c.logger.Info("robot mode changed", "from", prev.String(), "to", mode.String())
	c.runtime.Spawn("mode-dispatch", func(ctx context.Context) {
		event.Emit(ctx, c.emitter, c.modeChanged, mode)
	})
}

// Stats returns counters for the registry, queue, emitter and runtime.
func (c *Core) Stats() Stats {
	return Stats{
		Mode:        c.Mode().String(),
		Registry:    c.registry.Stats(),
		Queue:       c.queue.Stats(),
		Channels:    c.emitter.Channels(),
		ActiveTasks: c.runtime.Active(),
		Supplies:    c.supplies.Load(),
	}
}

// Shutdown stops accepting snapshots and commands, waits for background
// tasks, and releases any commands the host never collected.
func (c *Core) Shutdown(ctx context.Context) error {
	if !c.stopped.CompareAndSwap(false, true) {
		return ErrStopped
	}

	err := c.runtime.stop(ctx)

	pending := c.queue.DrainAll()
	for _, cmd := range pending {
		wire.Release(cmd.Frame)
	}

	c.logger.Info("core stopped", "discarded_commands", len(pending))
	if err != nil {
		return fmt.Errorf("core: waiting for background tasks: %w", err)
	}
	return nil
}
