package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger defines the minimal logging interface for the engine. This allows
// users to provide their own logger implementation or use the built-in
// slog adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// NoOpLogger discards all log messages. Useful for testing or when
// logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// FlowLoggerConfig configures construction of a FlowLogger.
type FlowLoggerConfig struct {
	Level     slog.Level
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultFlowLoggerConfig returns a baseline JSON info level configuration.
func DefaultFlowLoggerConfig() *FlowLoggerConfig {
	return &FlowLoggerConfig{Level: slog.LevelInfo, Format: "json", Output: os.Stdout}
}

// FlowLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods for the composition shapes. It is cheap to
// copy via the With* methods.
type FlowLogger struct {
	logger    *slog.Logger
	component string
	session   string
}

// NewFlowLogger builds a FlowLogger from a config (or defaults if nil).
func NewFlowLogger(cfg *FlowLoggerConfig) *FlowLogger {
	if cfg == nil {
		cfg = DefaultFlowLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &FlowLogger{logger: slog.New(handler), component: cfg.Component}
}

// WithComponent returns a copy bound to a logical component (runner,
// chain, router, parallel, orchestrator, loop).
func (l *FlowLogger) WithComponent(component string) *FlowLogger {
	nl := *l
	nl.component = component
	return &nl
}

// WithSession returns a copy bound to a session identifier.
func (l *FlowLogger) WithSession(session string) *FlowLogger {
	nl := *l
	nl.session = session
	return &nl
}

func (l *FlowLogger) attrs(extra ...slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(extra)+2)
	if l.component != "" {
		out = append(out, slog.String("component", l.component))
	}
	if l.session != "" {
		out = append(out, slog.String("session_id", l.session))
	}
	return append(out, extra...)
}

func (l *FlowLogger) log(level slog.Level, msg string, extra ...slog.Attr) {
	l.logger.LogAttrs(context.Background(), level, msg, l.attrs(extra...)...)
}

// Debug logs at debug level.
func (l *FlowLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, argsToAttrs(args)...) }

// Info logs at info level.
func (l *FlowLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, argsToAttrs(args)...) }

// Warn logs at warn level.
func (l *FlowLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, argsToAttrs(args)...) }

// Error logs at error level.
func (l *FlowLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, argsToAttrs(args)...) }

// argsToAttrs converts slog-style alternating key/value args into attrs.
// A trailing key without a value is kept with a nil value rather than
// dropped.
func argsToAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		var value any
		if i+1 < len(args) {
			value = args[i+1]
		}
		attrs = append(attrs, slog.Any(key, value))
	}
	return attrs
}

// LogStep records a completed step attempt sequence.
func (l *FlowLogger) LogStep(step string, attempts int, dur time.Duration, success bool, err error) {
	extra := []slog.Attr{
		slog.String("step", step),
		slog.Int("attempts", attempts),
		slog.Duration("duration", dur),
		slog.Bool("success", success),
	}
	level := slog.LevelInfo
	msg := "Step completed"
	if !success {
		level = slog.LevelError
		msg = "Step failed"
		if err != nil {
			extra = append(extra, slog.String("error", err.Error()))
		}
	}
	l.log(level, msg, extra...)
}

// LogBatch records aggregate fan-out batch metrics.
func (l *FlowLogger) LogBatch(tasks, failed int, dur time.Duration) {
	l.log(slog.LevelInfo, "Batch completed",
		slog.Int("tasks", tasks),
		slog.Int("failed", failed),
		slog.Duration("duration", dur),
	)
}

// LogIteration records one refinement loop iteration.
func (l *FlowLogger) LogIteration(iteration int, score float64, passed bool) {
	l.log(slog.LevelInfo, "Iteration completed",
		slog.Int("iteration", iteration),
		slog.Float64("score", score),
		slog.Bool("passed", passed),
	)
}
