package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/device"
)

// Measurements written by ferrobot. The robot tag is added by the client.
const (
	MeasurementTelemetry = "device_telemetry"
	MeasurementMode      = "robot_mode"
	MeasurementQueue     = "command_queue"
)

// NewTelemetryPoint builds the point for one decoded telemetry sample,
// tagged with the device kind and id.
func NewTelemetryPoint(dev device.Identity, fields map[string]any, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementTelemetry,
		map[string]string{
			"kind": dev.Kind.String(),
			"id":   strconv.Itoa(int(dev.ID)),
		},
		fields, ts)
}

// NewModePoint builds the point for a robot mode change.
func NewModePoint(mode device.Mode, ts time.Time) *write.Point {
	return write.NewPointWithMeasurement(MeasurementMode).
		AddField("mode", mode.String()).
		AddField("enabled", mode.Enabled()).
		SetTime(ts)
}

// NewQueuePoint builds the point for a command queue counter sample.
func NewQueuePoint(stats command.QueueStats, ts time.Time) *write.Point {
	return write.NewPointWithMeasurement(MeasurementQueue).
		AddField("pushed", int64(stats.Pushed)).
		AddField("drained", int64(stats.Drained)).
		AddField("dropped", int64(stats.Dropped)).
		AddField("rejected", int64(stats.Rejected)).
		AddField("pending", int64(stats.Pending)).
		SetTime(ts)
}

// WriteTelemetry records one decoded telemetry sample.
func (c *Client) WriteTelemetry(dev device.Identity, fields map[string]any, ts time.Time) {
	c.Write(NewTelemetryPoint(dev, fields, ts))
}

// WriteMode records a robot mode change.
func (c *Client) WriteMode(mode device.Mode, ts time.Time) {
	c.Write(NewModePoint(mode, ts))
}

// WriteQueueStats records a command queue counter sample.
func (c *Client) WriteQueueStats(stats command.QueueStats, ts time.Time) {
	c.Write(NewQueuePoint(stats, ts))
}
