// Package config loads the ferrobot YAML file, layers FERROBOT_* environment
// variables over it and validates the result.
//
// The device list is checked here rather than at build time, so a bad
// SPARK MAX id or NavX port stops the process before any hardware is
// touched. Secrets (MQTT password, JWT secret, InfluxDB token) are expected
// from the environment; an unparsable numeric or boolean override is an
// error rather than a silent fallback.
package config
