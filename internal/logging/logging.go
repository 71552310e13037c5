package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"withvoice/internal/config"
)

// New builds the process logger. Console output goes to stderr; when a log
// file is configured, JSON lines are also written there with rotation.
func New(cfg config.LogConfig) (*zap.Logger, io.Closer, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	return build(cfg, level, zapcore.Lock(os.Stderr))
}

func build(cfg config.LogConfig, level zapcore.Level, console zapcore.WriteSyncer) (*zap.Logger, io.Closer, error) {
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), console, level),
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rotator), level))
		closer = rotator
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Named("withvoice")
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
