// Package h2log builds the zap logger h2muxd and the http2 package share.
package h2log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures New. Grounded on devagent's internal/logging.Config
// (file rotation + level), trimmed to what a single-process daemon needs.
type Config struct {
	// FilePath is where rotated JSON logs are written. Empty disables
	// file output entirely (stderr-only).
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      string
	// Console, if true, also tees human-readable output to stderr —
	// the common case for `h2muxd serve` run interactively.
	Console bool
}

// New builds a *zap.Logger teeing a JSON core writing to FilePath (rotated
// via lumberjack; present only when FilePath is set) and a console core to
// stderr (present when Console is set or FilePath is empty).
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var cores []zapcore.Core

	if cfg.FilePath != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    nonZero(cfg.MaxSizeMB, 10),
			MaxBackups: nonZero(cfg.MaxBackups, 5),
			MaxAge:     nonZero(cfg.MaxAgeDays, 7),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(fileWriter),
			level,
		))
	}

	if cfg.Console || cfg.FilePath == "" {
		consoleCfg := encoderCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.AddSync(os.Stderr),
			level,
		))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
