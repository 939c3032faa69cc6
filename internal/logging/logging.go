// Package logging builds the structured zap logger shared by all binaries.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const messageKey = "message"

// Config controls logger construction.
type Config struct {
	Level       string   `env:"LEVEL" envDefault:"info"`
	Encoding    string   `env:"ENCODING" envDefault:"json"` // json | console
	OutputPaths []string `env:"OUTPUT_PATHS" envSeparator:"," envDefault:"stdout"`
}

// ParseLevel maps a level name to a zap level. Unknown names fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
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

// New builds a logger from cfg. The message key is "message".
func New(cfg Config, fields ...zap.Field) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}
	zcfg.EncoderConfig.MessageKey = messageKey
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.With(fields...), nil
}

// Must is like New but falls back to a no-op logger on error.
func Must(cfg Config, fields ...zap.Field) *zap.Logger {
	logger, err := New(cfg, fields...)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
