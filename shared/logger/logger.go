package logger

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// NewLogger returns a JSON logger for prod and a text logger otherwise.
// Unknown levels fall back to info.
func NewLogger(w io.Writer, env, level string) *slog.Logger {
	var l = new(slog.LevelVar)
	switch strings.ToLower(level) {
	case "debug":
		l.Set(slog.LevelDebug)
	case "warn":
		l.Set(slog.LevelWarn)
	case "error":
		l.Set(slog.LevelError)
	case "info", "":
	default:
		slog.Default().Warn("invalid log level, using info", slog.String("value", level))
	}

	var h slog.Handler
	switch env {
	case "prod", "production":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: l,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.String("time", a.Value.Time().Format(time.RFC3339Nano))
				}
				return a
			},
		})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})
	}

	return slog.New(h)
}
