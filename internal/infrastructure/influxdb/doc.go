// Package influxdb records robot telemetry in an InfluxDB v2 bucket.
//
// Three measurements are written, each tagged with the robot name:
//
//	device_telemetry  kind, id tags; one field per decoded telemetry value
//	robot_mode        mode, enabled
//	command_queue     pushed, drained, dropped, rejected, pending
//
// Writes go through the library's batching write API and never block the
// caller. Failed batches are reported to the SetOnError callback; Connect
// and HealthCheck return their errors directly.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Robot.Name)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteMode(device.ModeAutonomous, time.Now())
package influxdb
