// Package logger provides basic logging functionalities.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines a simple interface for logging.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// zapLogger adapts a zap SugaredLogger to the Logger interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// parseLevel maps "debug", "info", "warn", "error", "fatal" to a zap level.
// Unknown values fall back to info.
func parseLevel(logLevel string) zapcore.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func build(level zap.AtomicLevel, callerSkip int) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Sampling = nil

	l, err := cfg.Build(zap.AddCallerSkip(callerSkip))
	if err != nil {
		// The production config only fails on bad output paths, which are fixed here.
		return zap.NewNop()
	}
	return l
}

// NewLogger creates a new Logger instance writing to stdout/stderr.
// loglevel could be "debug", "info", "warn", "error", "fatal"
func NewLogger(logLevel string) Logger {
	return &zapLogger{sugar: build(zap.NewAtomicLevelAt(parseLevel(logLevel)), 1).Sugar()}
}

// FromZap wraps an existing zap logger, e.g. zap.NewNop() in tests.
func FromZap(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *zapLogger) Debug(args ...interface{}) { l.sugar.Debug(args...) }

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

func (l *zapLogger) Info(args ...interface{}) { l.sugar.Info(args...) }

func (l *zapLogger) Infof(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

func (l *zapLogger) Warn(args ...interface{}) { l.sugar.Warn(args...) }

func (l *zapLogger) Warnf(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

func (l *zapLogger) Error(args ...interface{}) { l.sugar.Error(args...) }

func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *zapLogger) Fatal(args ...interface{}) { l.sugar.Fatal(args...) }

func (l *zapLogger) Fatalf(format string, args ...interface{}) { l.sugar.Fatalf(format, args...) }

// globalSkip hides the package-level helper and the adapter method from caller info.
const globalSkip = 2

var (
	mu          sync.RWMutex
	globalLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	globalZap   = build(globalLevel, globalSkip)
	std         Logger = &zapLogger{sugar: globalZap.Sugar()}
)

// SetGlobalLogLevel reconfigures the global std logger's level.
func SetGlobalLogLevel(logLevel string) {
	globalLevel.SetLevel(parseLevel(logLevel))
}

// Zap returns the structured logger behind the global std logger.
// Infrastructure components that log with fields take this one.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalZap.WithOptions(zap.AddCallerSkip(-globalSkip))
}

// ReplaceGlobal swaps the global logger. Tests use it with zap.NewNop().
func ReplaceGlobal(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalZap = l.WithOptions(zap.AddCallerSkip(globalSkip))
	std = &zapLogger{sugar: globalZap.Sugar()}
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return globalZap.Sync()
}

func current() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// Debug logs a debug message using the global std logger.
func Debug(args ...interface{}) {
	current().Debug(args...)
}

// Debugf logs a debug message with formatting.
func Debugf(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// Info logs an informational message using the global std logger.
func Info(args ...interface{}) {
	current().Info(args...)
}

// Infof logs an informational message with formatting.
func Infof(format string, args ...interface{}) {
	current().Infof(format, args...)
}

// Warn logs a warning message.
func Warn(args ...interface{}) {
	current().Warn(args...)
}

// Warnf logs a warning message with formatting.
func Warnf(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// Error logs an error message.
func Error(args ...interface{}) {
	current().Error(args...)
}

// Errorf logs an error message with formatting.
func Errorf(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Fatal logs a fatal error message and exits.
func Fatal(args ...interface{}) {
	current().Fatal(args...)
}

// Fatalf logs a fatal error message with formatting and exits.
func Fatalf(format string, args ...interface{}) {
	current().Fatalf(format, args...)
}
