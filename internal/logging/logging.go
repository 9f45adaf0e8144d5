// Package logging provides category-tagged logging for all subsystems,
// backed by zap. All logging must go through this package.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category constants for consistent logging categories.
const (
	CategoryApp        = "App"
	CategoryConfig     = "Config"
	CategoryAudio      = "Audio"
	CategorySession    = "Session"
	CategoryTranscript = "Transcript"
	CategoryRecording  = "Recording"
	CategoryGateway    = "Gateway"
	CategoryMinutes    = "Minutes"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Init initializes logging at the given level ("debug", "info", "warn", "error").
func Init(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
	return nil
}

// Shutdown flushes buffered log entries.
func Shutdown() {
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	get().With("category", category).Debugf(msg, params...)
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	get().With("category", category).Infof(msg, params...)
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	get().With("category", category).Warnf(msg, params...)
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	get().With("category", category).Errorf(msg, params...)
}
