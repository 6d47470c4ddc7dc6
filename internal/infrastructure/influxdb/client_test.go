package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "ferrobot-dev-token",
		Org:           "ferrobot",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the dev server. Without RUN_INTEGRATION a
// missing server skips the test.
func connectOrSkip(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(cfg, "test-bot")
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") == "" {
			t.Skipf("InfluxDB not available: %v", err)
		}
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func tagsOf(p *write.Point) map[string]string {
	m := make(map[string]string)
	for _, tag := range p.TagList() {
		m[tag.Key] = tag.Value
	}
	return m
}

func fieldsOf(p *write.Point) map[string]any {
	m := make(map[string]any)
	for _, f := range p.FieldList() {
		m[f.Key] = f.Value
	}
	return m
}

// =============================================================================
// Point Builder Tests
// =============================================================================

func TestNewTelemetryPoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	dev := device.Identity{Kind: device.KindSparkMax, ID: 7}

	p := influxdb.NewTelemetryPoint(dev, map[string]any{"output": 0.5, "connected": true}, ts)

	if p.Name() != influxdb.MeasurementTelemetry {
		t.Errorf("Name() = %q, want %q", p.Name(), influxdb.MeasurementTelemetry)
	}
	if !p.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", p.Time(), ts)
	}
	got := tagsOf(p)
	if got["kind"] != "spark_max" || got["id"] != "7" {
		t.Errorf("tags = %v, want kind spark_max id 7", got)
	}
	if _, ok := got["robot"]; ok {
		t.Error("robot tag belongs to the client defaults, not the point")
	}
	fields := fieldsOf(p)
	if fields["output"] != 0.5 || fields["connected"] != true {
		t.Errorf("fields = %v, want output 0.5 connected true", fields)
	}
}

func TestNewModePoint(t *testing.T) {
	tests := []struct {
		mode        device.Mode
		wantEnabled bool
	}{
		{device.ModeDisabled, false},
		{device.ModeAutonomous, true},
		{device.ModeTeleoperated, true},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			p := influxdb.NewModePoint(tt.mode, time.Now())
			if p.Name() != influxdb.MeasurementMode {
				t.Errorf("Name() = %q, want %q", p.Name(), influxdb.MeasurementMode)
			}
			fields := fieldsOf(p)
			if fields["mode"] != tt.mode.String() || fields["enabled"] != tt.wantEnabled {
				t.Errorf("fields = %v", fields)
			}
		})
	}
}

func TestNewQueuePoint(t *testing.T) {
	stats := command.QueueStats{Pushed: 10, Drained: 8, Dropped: 1, Rejected: 1, Pending: 1}
	p := influxdb.NewQueuePoint(stats, time.Now())

	fields := fieldsOf(p)
	want := map[string]int64{"pushed": 10, "drained": 8, "dropped": 1, "rejected": 1, "pending": 1}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %v, want %d", k, fields[k], v)
		}
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg, "test-bot")
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg, "test-bot")
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWrites(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	var mu sync.Mutex
	var writeErr error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	now := time.Now()
	client.WriteTelemetry(device.Identity{Kind: device.KindNavX, ID: 0}, map[string]any{"heading": 12.5}, now)
	client.WriteMode(device.ModeTeleoperated, now)
	client.WriteQueueStats(command.QueueStats{Pushed: 1}, now)
	client.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
	// Second close and late writes are no-ops.
	_ = client.Close()
	client.WriteMode(device.ModeDisabled, time.Now())
	client.Flush()
}
