// Package api implements the monitoring HTTP API and WebSocket server for
// ferrobot.
//
// This package provides:
//   - REST endpoints listing devices with their latest decoded telemetry
//   - A command endpoint applying set-point requests to a device
//   - Read access to the command journal and mode history
//   - Health and runtime metrics for the core and its infrastructure
//   - A WebSocket hub broadcasting samples and mode changes
//
// # Architecture
//
// The server sits beside the control loop. It reads the robot's façades and
// the core's counters, and subscribes to the robot's events for WebSocket
// broadcast. Commands from the API take the same path as any other caller:
// validated by the façade and queued for the host's next tick.
//
// # Graceful Degradation
//
// The journal is optional. Without it the journal endpoints answer 503 and
// everything else keeps working.
package api
