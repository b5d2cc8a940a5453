// Package logging builds the sugared zap loggers used across stackeval.
package logging

import (
	"io"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func newConfig(level zapcore.Level) zap.Config {
	return zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          "console",
		EncoderConfig:     encoderConfig(),
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns an info level console logger.
func NewLogger(name string) *zap.SugaredLogger {
	logger, err := newConfig(zap.InfoLevel).Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar().Named(name)
}

// NewDebugLogger additionally logs to path when it is not empty.
func NewDebugLogger(name, path string) (*zap.SugaredLogger, error) {
	cfg := newConfig(zap.DebugLevel)
	if path != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, path)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, path)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar().Named(name), nil
}

// NewWriterLogger logs to w without colors, for surfaces that own the terminal.
func NewWriterLogger(name string, w io.Writer, level zapcore.Level) *zap.SugaredLogger {
	enc := encoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core).Sugar().Named(name)
}

// NewTestLogger returns a debug logger writing through tb.
func NewTestLogger(tb testing.TB) *zap.SugaredLogger {
	return zaptest.NewLogger(tb, zaptest.Level(zap.DebugLevel)).Sugar()
}

// NewObservedTestLogger returns a logger whose entries can be inspected.
func NewObservedTestLogger(tb testing.TB) (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	tee := zapcore.NewTee(core, zaptest.NewLogger(tb).Core())
	return zap.New(tee).Sugar(), logs
}
