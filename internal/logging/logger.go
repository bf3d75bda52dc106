package logging

import (
	"io"
	"os"
	"strings"

	"github.com/berfenger/homebattery2mqtt/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the application logger. Records go to stdout and, when cfg.File is set, to a rotated file.
func New(cfg config.LogConfig, level zapcore.Level) (*zap.Logger, error) {
	return newLogger(cfg, level, os.Stdout)
}

func newLogger(cfg config.LogConfig, level zapcore.Level, stdout io.Writer) (*zap.Logger, error) {
	var encoderCfg zapcore.EncoderConfig
	if strings.ToLower(cfg.Format) == "console" {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	}
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	ws := zapcore.AddSync(stdout)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		ws = zapcore.NewMultiWriteSyncer(ws, zapcore.AddSync(lj))
	}
	core := zapcore.NewCore(encoder, ws, zap.NewAtomicLevelAt(level))

	return zap.New(core, zap.AddCaller()), nil
}
