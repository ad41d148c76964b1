// Package logger provides the structured logging contract used by the kiln
// runtime. Components receive a Logger at construction time; there is no
// package-global logger state in the runtime itself.
package logger

import (
	"go.uber.org/zap"
)

// Logger is the logging interface injected into containers, runners and
// dependency providers.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)

	// With returns a child logger with the given fields attached.
	With(fields ...zap.Field) Logger

	// Named returns a child logger with the given name segment appended.
	Named(name string) Logger

	Sync() error
}

type zapLogger struct {
	l *zap.Logger
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) Logger {
	return &zapLogger{l: l}
}

// NewProduction creates a JSON logger suitable for production use.
func NewProduction() Logger {
	return &zapLogger{l: zap.Must(zap.NewProduction())}
}

// NewDevelopment creates a human-friendly console logger with debug enabled.
func NewDevelopment() Logger {
	return &zapLogger{l: zap.Must(zap.NewDevelopment())}
}

// NewNop creates a logger that discards everything.
func NewNop() Logger {
	return &zapLogger{l: zap.NewNop()}
}

func (z *zapLogger) Debug(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...zap.Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...zap.Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...zap.Field) { z.l.Error(msg, fields...) }

func (z *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

func (z *zapLogger) Named(name string) Logger {
	return &zapLogger{l: z.l.Named(name)}
}

func (z *zapLogger) Sync() error { return z.l.Sync() }
