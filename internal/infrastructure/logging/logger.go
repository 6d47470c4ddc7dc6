package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
)

// serviceName is attached to every record as the "service" attribute.
const serviceName = "ferrobot"

// Logger is a slog.Logger that also owns its output file, if any.
//
// Its method set satisfies the small Logger interfaces declared by the
// core, device, command, event, bridge, journal and mqtt packages, so one
// instance (or a Component of it) can be handed to all of them.
//
// Thread Safety: All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds a logger from the logging config section. Records carry the
// service name and version. output "file" writes to a lumberjack-rotated
// file, "stderr" to stderr, and anything else to stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	switch strings.ToLower(cfg.Output) {
	case "file":
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		return build(cfg, version, rotator, rotator)
	case "stderr":
		return build(cfg, version, os.Stderr, nil)
	default:
		return build(cfg, version, os.Stdout, nil)
	}
}

// Default is the logger used until the configuration has been loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

func build(cfg config.LoggingConfig, version string, w io.Writer, closer io.Closer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h), closer: closer}
}

// parseLevel maps debug, info, warn (or warning) and error onto slog
// levels, ignoring case. Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger carrying args on every record. The child
// shares the parent's output; closing it is a no-op.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Close closes the log file when output is "file".
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
