package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rackwise/rackwise-core/internal/infrastructure/config"
)

// levelNames maps configured level strings to slog levels. Unknown
// names fall back to info.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is the application-wide structured logger. It embeds
// slog.Logger, so Debug/Info/Warn/Error are available directly, and
// every line carries the service and version attributes.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the configuration.
//
// Format "text" selects the human-readable handler, anything else is
// JSON. Output "stderr" writes to stderr, anything else to stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	handler := newHandler(cfg).WithAttrs([]slog.Attr{
		slog.String("service", "rackwise"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// Default is the bootstrap logger used before the configuration file
// has been read: JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// With returns a child logger carrying extra default attributes.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// newHandler resolves the output writer and format from config.
func newHandler(cfg config.LoggingConfig) slog.Handler {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

// parseLevel resolves a configured level name.
func parseLevel(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}
