package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Environments that select the log format
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Logger interface defines the logging contract
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

// New returns a stderr logger: text for dev, JSON for prod
func New(env string, level string) (Logger, error) {
	return NewWriter(os.Stderr, env, level)
}

// NewWriter is New with a custom destination
func NewWriter(w io.Writer, env string, level string) (Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   true,
		ReplaceAttr: replace,
	}

	switch env {
	case EnvDev:
		return &slogLogger{logger: slog.New(slog.NewTextHandler(w, opts))}, nil
	case EnvProd:
		return &slogLogger{logger: slog.New(slog.NewJSONHandler(w, opts))}, nil
	default:
		return nil, fmt.Errorf("unknown environment %q", env)
	}
}

// NewNoOpLogger creates a logger that discards all log messages
func NewNoOpLogger() Logger {
	return &slogLogger{logger: slog.New(slog.DiscardHandler)}
}

// OrNoOp returns l or a discarding logger when l is nil
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NewNoOpLogger()
	}
	return l
}
