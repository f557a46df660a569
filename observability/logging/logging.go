// Package logging configures the daemon's structured logging. dutchdropd
// emits one JSON object per line on stdout with stable timestamp, severity
// and message keys, tagged with the service name and environment, so a log
// collector needs no per-deployment parsing rules.
package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the JSON handler as the process-wide default and returns the
// logger the daemon uses directly. The "dev" environment lowers the level to
// debug; every other environment logs at info.
func Setup(service, env string) *slog.Logger {
	env = strings.TrimSpace(env)
	level := slog.LevelInfo
	if strings.EqualFold(env, "dev") {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "timestamp"
			case slog.LevelKey:
				attr = slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				attr.Key = "message"
			}
			return attr
		},
	})

	tags := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env != "" {
		tags = append(tags, slog.String("env", env))
	}
	args := make([]any, 0, len(tags))
	for _, tag := range tags {
		args = append(args, tag)
	}

	logger := slog.New(handler).With(args...)
	slog.SetDefault(logger)

	// Route the standard library logger through the same handler; leveldb and
	// other dependencies that log via log.Printf come out as tagged JSON too.
	bridge := slog.NewLogLogger(handler.WithAttrs(tags), slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return logger
}
