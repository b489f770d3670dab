// Package logging builds the proxy's process-wide zap logger: JSON to a
// rotated file always, plus a stderr core when the upstream transport is
// HTTP (stdout is reserved for stdio JSON-RPC framing and must never carry
// log output). Grounded on the rotation shape of
// kubilitics-ai/internal/audit/logger.go (zapcore.NewCore over a
// lumberjack.Logger writer), generalized from a fixed audit+app pair to one
// configurable sink.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the logger writes.
type Config struct {
	FilePath       string
	Level          string
	MaxSizeMB      int
	MaxBackups     int
	MaxAgeDays     int
	Compress       bool
	StdioTransport bool // true when the upstream transport is stdio: file sink only, never stderr or stdout
}

// DefaultConfig matches spec.md §6's logs/<app>.log rotation expectations.
func DefaultConfig() Config {
	return Config{
		FilePath:   "logs/hypertool-mcp-proxy.log",
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// New builds the process logger. Callers must call Sync before exit.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), level),
	}
	if !cfg.StdioTransport {
		// Even under the http transport we only ever add a stderr core —
		// stdout is never touched here, so this logger is safe to construct
		// before the transport kind is fully decided.
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
