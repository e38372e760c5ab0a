package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup configures process-wide structured JSON logging on stderr and returns
// the root logger. Every line carries the service name and, when provided, the
// environment. Development environments log at debug level. The standard
// library logger is bridged onto the same stream so dependencies using
// log.Printf stay structured.
func Setup(service, env string) *slog.Logger {
	base := newLogger(os.Stderr, service, env)
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(base.Handler(), slog.LevelInfo)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func newLogger(w io.Writer, service, env string) *slog.Logger {
	env = strings.TrimSpace(env)
	level := slog.LevelInfo
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
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

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return slog.New(handler.WithAttrs(attrs))
}
