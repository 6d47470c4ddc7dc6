package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/event"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/ferrobot-core/internal/robot"
)

const defaultCommandTimeout = 2 * time.Second

// MQTTClient is the subset of the MQTT client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by the bridge.
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

// Options configures a Bridge.
type Options struct {
	Client MQTTClient
	Topics mqtt.Topics
	Robot  *robot.Robot
	QoS    byte

	// CommandTimeout bounds how long an inbound command may wait for queue
	// space. Zero means two seconds.
	CommandTimeout time.Duration
}

// Bridge relays robot state to MQTT and MQTT commands to the robot.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client         MQTTClient
	topics         mqtt.Topics
	robot          *robot.Robot
	qos            byte
	commandTimeout time.Duration

	stateCache   map[device.Identity]map[string]any
	stateCacheMu sync.Mutex

	subs      []*event.Subscription
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	metrics Metrics
	logger  Logger
}

// Metrics counts bridge traffic.
type Metrics struct {
	StatesPublished  atomic.Uint64
	StatesSkipped    atomic.Uint64
	CommandsReceived atomic.Uint64
	CommandsFailed   atomic.Uint64
	PublishErrors    atomic.Uint64
}

// MetricsSnapshot is a copy of Metrics.
type MetricsSnapshot struct {
	StatesPublished  uint64 `json:"states_published"`
	StatesSkipped    uint64 `json:"states_skipped"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	PublishErrors    uint64 `json:"publish_errors"`
}

// NewBridge creates a bridge. Client and Robot are required.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("bridge: mqtt client is required")
	}
	if opts.Robot == nil {
		return nil, errors.New("bridge: robot is required")
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = mqtt.NewTopics(mqtt.DefaultTopicPrefix)
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	return &Bridge{
		client:         opts.Client,
		topics:         opts.Topics,
		robot:          opts.Robot,
		qos:            opts.QoS,
		commandTimeout: opts.CommandTimeout,
		stateCache:     make(map[device.Identity]map[string]any),
		logger:         noopLogger{},
	}, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start subscribes to command topics and begins publishing state. The
// bridge stops when ctx is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.ctxCancel = context.WithCancel(ctx)

	commandTopic := b.topics.AllCommands()
	if err := b.client.Subscribe(commandTopic, b.qos, b.handleMessage); err != nil {
		b.ctxCancel()
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	c := b.robot.Core()
	b.subs = append(b.subs,
		event.Register(c.Emitter(), b.robot.Samples(), b.publishSample),
		event.Register(c.Emitter(), c.ModeChanged(), func(_ context.Context, m device.Mode) {
			b.publishMode(m)
		}),
	)
	b.publishMode(c.Mode())

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-b.ctx.Done()
		b.Stop()
	}()

	b.logger.Info("mqtt bridge started", "devices", len(b.robot.Devices()))
	return nil
}

// Stop unsubscribes from the broker and the robot's events. It is safe to
// call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.ctxCancel != nil {
			b.ctxCancel()
		}
		for _, sub := range b.subs {
			sub.Unsubscribe()
		}
		if err := b.client.Unsubscribe(b.topics.AllCommands()); err != nil {
			b.logger.Debug("unsubscribe from commands", "error", err)
		}
		b.logger.Info("mqtt bridge stopped")
	})
}

// Wait blocks until the bridge has stopped.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Metrics returns a copy of the bridge counters.
func (b *Bridge) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		StatesPublished:  b.metrics.StatesPublished.Load(),
		StatesSkipped:    b.metrics.StatesSkipped.Load(),
		CommandsReceived: b.metrics.CommandsReceived.Load(),
		CommandsFailed:   b.metrics.CommandsFailed.Load(),
		PublishErrors:    b.metrics.PublishErrors.Load(),
	}
}

// publishSample publishes s unless its fields match the last publication
// for the same device.
func (b *Bridge) publishSample(_ context.Context, s robot.Sample) {
	if b.stateUnchanged(s.Device, s.Fields) {
		b.metrics.StatesSkipped.Add(1)
		return
	}

	payload, err := json.Marshal(StateMessage{
		Device:    s.Device,
		Name:      s.Name,
		Fields:    s.Fields,
		Timestamp: s.Time.UTC(),
	})
	if err != nil {
		b.logger.Error("failed to marshal state", "device", s.Device.String(), "error", err)
		return
	}
	if err := b.client.Publish(b.topics.State(s.Device), payload, b.qos, true); err != nil {
		b.metrics.PublishErrors.Add(1)
		b.forgetState(s.Device)
		b.logger.Warn("failed to publish state", "device", s.Device.String(), "error", err)
		return
	}
	b.metrics.StatesPublished.Add(1)
}

func (b *Bridge) stateUnchanged(dev device.Identity, fields map[string]any) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()
	if prev, ok := b.stateCache[dev]; ok && maps.Equal(prev, fields) {
		return true
	}
	b.stateCache[dev] = maps.Clone(fields)
	return false
}

func (b *Bridge) forgetState(dev device.Identity) {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()
	delete(b.stateCache, dev)
}

// ClearStateCache forces the next sample of every device to be published.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()
	clear(b.stateCache)
}

func (b *Bridge) publishMode(m device.Mode) {
	payload, err := json.Marshal(ModeMessage{Mode: m, Timestamp: time.Now().UTC()})
	if err != nil {
		b.logger.Error("failed to marshal mode", "error", err)
		return
	}
	if err := b.client.Publish(b.topics.Mode(), payload, b.qos, true); err != nil {
		b.metrics.PublishErrors.Add(1)
		b.logger.Warn("failed to publish mode", "mode", m.String(), "error", err)
	}
}

// handleMessage applies one inbound command and acknowledges it.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	category, dev, err := b.topics.ParseDeviceTopic(topic)
	if err != nil {
		return err
	}
	if category != mqtt.CategoryCommand {
		return fmt.Errorf("%w: not a command topic: %s", mqtt.ErrInvalidTopic, topic)
	}
	b.metrics.CommandsReceived.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAckError(cmd, dev, ErrCodeInvalidCommand, "payload is not a valid command: "+err.Error())
		return nil
	}

	b.logger.Debug("received command",
		"command_id", cmd.ID,
		"device", dev.String(),
		"action", string(cmd.Action))

	ctx, cancel := context.WithTimeout(b.commandContext(), b.commandTimeout)
	defer cancel()

	if err := b.robot.Apply(ctx, dev, robot.Request{Action: cmd.Action, Value: cmd.Value}); err != nil {
		b.publishAckError(cmd, dev, errorCode(err), err.Error())
		return nil
	}
	b.publishAck(cmd, dev)
	return nil
}

func (b *Bridge) commandContext() context.Context {
	if b.ctx != nil {
		return b.ctx
	}
	return context.Background()
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeNotFound
	case errors.Is(err, robot.ErrUnsupportedAction):
		return ErrCodeUnsupported
	case errors.Is(err, device.ErrValidation):
		return ErrCodeInvalidValue
	default:
		return ErrCodeFailed
	}
}

func (b *Bridge) publishAck(cmd CommandMessage, dev device.Identity) {
	b.sendAck(AckMessage{
		CommandID: cmd.ID,
		Device:    dev,
		Status:    AckAccepted,
		Timestamp: time.Now().UTC(),
	})
}

func (b *Bridge) publishAckError(cmd CommandMessage, dev device.Identity, code, message string) {
	b.metrics.CommandsFailed.Add(1)
	b.logger.Warn("command failed", "device", dev.String(), "code", code, "message", message)
	b.sendAck(AckMessage{
		CommandID: cmd.ID,
		Device:    dev,
		Status:    AckFailed,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func (b *Bridge) sendAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.client.Publish(b.topics.Ack(ack.Device), payload, b.qos, false); err != nil {
		b.metrics.PublishErrors.Add(1)
		b.logger.Warn("failed to publish ack", "device", ack.Device.String(), "error", err)
	}
}
