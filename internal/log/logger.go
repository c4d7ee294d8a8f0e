package log

import (
	"log/slog"
	"os"
)

// Logger is a slog.Logger that always carries a component attribute, so every
// line can be traced back to the part of the ledger that emitted it.
type Logger struct {
	*slog.Logger

	// base has every attribute except the component, so WithComponent can
	// rebind without stacking duplicate component keys.
	base      *slog.Logger
	component string
}

// Config holds logger configuration.
type Config struct {
	Level     slog.Level
	Component string
	Handler   slog.Handler // optional; a text handler on stdout when nil
}

// DefaultConfig is what both binaries start from: info-level text output
// under the application-wide component.
func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Component: ComponentApp,
	}
}

// New builds a logger with the component attribute already attached; callers
// never pass it per log line.
func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.Level})
	}
	return wrap(slog.New(handler), config.Component)
}

func wrap(base *slog.Logger, component string) *Logger {
	return &Logger{
		Logger:    base.With(FieldComponent, component),
		base:      base,
		component: component,
	}
}

// With returns a logger with extra attributes, keeping the component.
func (l *Logger) With(args ...any) *Logger {
	return wrap(l.base.With(args...), l.component)
}

// WithComponent rebinds the logger to another component.
func (l *Logger) WithComponent(component string) *Logger {
	return wrap(l.base, component)
}

// Component returns the logger's component name.
func (l *Logger) Component() string {
	return l.component
}

// SetDefault routes bare slog calls through this logger's handler, so
// packages logging via the slog package default pick up the same output.
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}
