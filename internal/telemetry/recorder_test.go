package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/core"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/device/navx"
	"github.com/nerrad567/ferrobot-core/internal/device/sparkmax"
	"github.com/nerrad567/ferrobot-core/internal/event"
	"github.com/nerrad567/ferrobot-core/internal/host/sim"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
	"github.com/nerrad567/ferrobot-core/internal/robot"
)

// mockWriter records every point it receives.
type mockWriter struct {
	mu        sync.Mutex
	telemetry map[device.Identity]map[string]any
	modes     []device.Mode
	queue     []command.QueueStats
}

func newMockWriter() *mockWriter {
	return &mockWriter{telemetry: make(map[device.Identity]map[string]any)}
}

func (w *mockWriter) WriteTelemetry(dev device.Identity, fields map[string]any, _ time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.telemetry[dev] = fields
}

func (w *mockWriter) WriteMode(mode device.Mode, _ time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.modes = append(w.modes, mode)
}

func (w *mockWriter) WriteQueueStats(stats command.QueueStats, _ time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, stats)
}

func (w *mockWriter) counts() (telemetry, modes, queue int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.telemetry), len(w.modes), len(w.queue)
}

func setup(t *testing.T) (*sim.Host, *core.Core, *robot.Robot) {
	t.Helper()
	h := sim.New()
	c, err := core.Start(context.Background(), core.Options{Host: h})
	if err != nil {
		t.Fatalf("core.Start() error = %v", err)
	}
	h.Attach(c)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	r, err := robot.Build(context.Background(), c, config.DevicesConfig{
		SparkMax: []config.SparkMaxDeclaration{{ID: 5, Name: "arm", Config: sparkmax.DefaultConfig()}},
		NavX:     []config.NavXDeclaration{{Name: "gyro", Connection: navx.ConnectionUSB1}},
	})
	if err != nil {
		t.Fatalf("robot.Build() error = %v", err)
	}
	t.Cleanup(r.Close)
	return h, c, r
}

// waitSubscribed blocks until Run has registered its handlers.
func waitSubscribed(t *testing.T, c *core.Core, r *robot.Robot) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for event.Subscribers(c.Emitter(), r.Samples()) == 0 || event.Subscribers(c.Emitter(), c.ModeChanged()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recorder did not subscribe")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRecorder_Run(t *testing.T) {
	h, c, r := setup(t)
	w := newMockWriter()
	rec := NewRecorder(w, r, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()
	waitSubscribed(t, c, r)

	h.SetMode(device.ModeTeleoperated)
	h.Tick(20 * time.Millisecond)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := c.Runtime().Wait(waitCtx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, _, queue := w.counts()
		if queue > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no queue stats recorded")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	telemetry, modes, _ := w.counts()
	if telemetry != 2 {
		t.Errorf("telemetry devices = %d, want 2", telemetry)
	}
	if modes != 1 || w.modes[0] != device.ModeTeleoperated {
		t.Errorf("modes = %v, want [teleoperated]", w.modes)
	}
	if s := rec.Stats(); s.Samples != 2 || s.Modes != 1 {
		t.Errorf("Stats() = %+v", s)
	}
	if event.Subscribers(c.Emitter(), r.Samples()) != 0 {
		t.Error("Run() left its sample subscription behind")
	}
}

func TestRecorder_NoQueueInterval(t *testing.T) {
	_, _, r := setup(t)
	w := newMockWriter()
	rec := NewRecorder(w, r, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rec.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if _, _, queue := w.counts(); queue != 0 {
		t.Errorf("queue stats written = %d, want 0", queue)
	}
}
