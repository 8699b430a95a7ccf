// Package logger holds the process-wide zap logger. It starts from
// NEURO_LOG_LEVEL and NEURO_LOG_FORMAT; commands may rebuild it from flags
// with Setup.
package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base atomic.Pointer[zap.Logger]

func init() {
	base.Store(build(os.Getenv("NEURO_LOG_LEVEL"), os.Getenv("NEURO_LOG_FORMAT")))
}

// L returns the process-wide logger.
func L() *zap.Logger { return base.Load() }

// Named returns a sugared child logger tagged with the component name.
func Named(component string) *zap.SugaredLogger { return L().Named(component).Sugar() }

// Setup replaces the process-wide logger. Empty arguments fall back to the
// environment, then to info level JSON.
func Setup(level, format string) {
	if level == "" {
		level = os.Getenv("NEURO_LOG_LEVEL")
	}
	if format == "" {
		format = os.Getenv("NEURO_LOG_FORMAT")
	}
	old := base.Swap(build(level, format))
	_ = old.Sync()
}

// Sync flushes buffered entries; call once before exit.
func Sync() { _ = L().Sync() }

func build(level, format string) *zap.Logger {
	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoding := parseEncoding(format)
	if encoding == "console" {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func parseEncoding(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), "console") {
		return "console"
	}
	return "json"
}
