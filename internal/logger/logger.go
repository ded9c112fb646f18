// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps a process-wide zap logger: printf-style helpers for ordinary messages and L()
// for structured fields on hot paths.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.RWMutex
	base    = zap.NewNop()
	sugared = base.WithOptions(zap.AddCallerSkip(1)).Sugar()
)

// ParseLevel maps a level name to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a zap logger. Format "json" writes production JSON to stdout with an
// ISO8601 "timestamp" key; "text" or "console" writes human-readable lines to stderr.
func New(level, format, serviceName string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(format) {
	case "text", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	default:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if serviceName != "" {
		l = l.With(zap.String("service_name", serviceName))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		l = l.With(zap.String("hostname", hostname))
	}
	return l, nil
}

// Init initializes the default logger with the specified level and format.
// If the logger cannot be built, the previous logger is kept.
func Init(level string, format string) {
	l, err := New(level, format, "guardian")
	if err != nil {
		Warn("Failed to build logger: %v", err)
		return
	}
	Set(l)
}

// Set replaces the default logger. Tests use it to install zaptest/observer loggers.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	sugared = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// L returns the default structured logger
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered log entries
func Sync() {
	_ = L().Sync()
}

func s() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	s().Debugf(format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	s().Infof(format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	s().Warnf(format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	s().Errorf(format, args...)
}

// Fatal logs a message at FatalLevel and exits
func Fatal(format string, args ...interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l.Core().Enabled(zapcore.FatalLevel) {
		s().Fatalf(format, args...)
		return
	}
	// The nop logger drops fatal messages; fall back to stderr.
	fallback, _ := zap.NewDevelopment()
	fallback.Sugar().Fatalf(format, args...)
}
