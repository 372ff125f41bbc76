// Package logger provides the structured logger used across the
// connection engine, pool, and IDLE monitor, backed by
// go.uber.org/zap. internal/tracing's Jaeger exporter adapts the
// underlying *zap.Logger via Logger().
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface the rest of the library
// depends on.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
	Logger() *zap.Logger
}

type zapLogger struct {
	z *zap.Logger
}

// New builds a production zap.Logger (JSON, info level) wrapped as a
// Logger. Callers embedding the client in their own service can instead
// wrap an existing *zap.Logger with Wrap.
func New() Logger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewNop()
	}
	return Wrap(z)
}

// NewDevelopment builds a human-readable, debug-level logger, suitable
// for the cmd/imapclient-shell demo harness.
func NewDevelopment() Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return Wrap(z)
}

// Wrap adapts an existing *zap.Logger.
func Wrap(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

// Nop discards everything; used as the default when no logger is
// configured.
func Nop() Logger { return Wrap(zap.NewNop()) }

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return Wrap(l.z.With(fields...))
}

func (l *zapLogger) Logger() *zap.Logger { return l.z }
