// Package telemetry records device samples, robot mode transitions and
// command queue statistics to a time-series store.
//
// The Recorder is store-agnostic: anything implementing Writer can receive
// the points. In production that is the InfluxDB client, whose writes are
// non-blocking and batched by the client library.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/event"
	"github.com/nerrad567/ferrobot-core/internal/robot"
)

// Writer receives telemetry points.
type Writer interface {
	WriteTelemetry(dev device.Identity, fields map[string]any, ts time.Time)
	WriteMode(mode device.Mode, ts time.Time)
	WriteQueueStats(stats command.QueueStats, ts time.Time)
}

// Logger is the logging interface used by the recorder.
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

// Recorder forwards robot events to a Writer.
type Recorder struct {
	writer   Writer
	robot    *robot.Robot
	interval time.Duration
	logger   Logger

	samples atomic.Uint64
	modes   atomic.Uint64
}

// Stats counts the points the recorder has written.
type Stats struct {
	Samples uint64 `json:"samples"`
	Modes   uint64 `json:"modes"`
}

// NewRecorder creates a recorder. Queue statistics are written every
// interval; a non-positive interval disables them.
func NewRecorder(w Writer, r *robot.Robot, interval time.Duration) *Recorder {
	return &Recorder{
		writer:   w,
		robot:    r,
		interval: interval,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{Samples: r.samples.Load(), Modes: r.modes.Load()}
}

// Run subscribes to the robot's samples and the core's mode changes and
// records them until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	c := r.robot.Core()
	em := c.Emitter()

	sampleSub := event.Register(em, r.robot.Samples(), func(_ context.Context, s robot.Sample) {
		r.writer.WriteTelemetry(s.Device, s.Fields, s.Time)
		r.samples.Add(1)
	})
	defer sampleSub.Unsubscribe()

	modeSub := event.Register(em, c.ModeChanged(), func(_ context.Context, m device.Mode) {
		r.writer.WriteMode(m, time.Now())
		r.modes.Add(1)
	})
	defer modeSub.Unsubscribe()

	r.logger.Info("telemetry recorder started", "queue_interval", r.interval.String())

	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.writer.WriteQueueStats(c.Stats().Queue, now)
		}
	}
}
