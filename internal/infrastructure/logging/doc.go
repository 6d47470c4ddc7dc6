// Package logging builds the process-wide slog logger.
//
// Entries are JSON unless logging.format is "text". Output goes to stdout,
// stderr or a lumberjack-rotated file. Every entry carries service and
// version; Component adds a component attribute so each subsystem
// (core, sim, journal, mqtt, bridge, telemetry, api) can be filtered.
//
//	log := logging.New(cfg.Logging, version)
//	defer log.Close()
//	log.Component("journal").Info("writer started", "buffer", 1024)
package logging
