// Package logging builds the process logger.
package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/artkit-ai/artkit/pkg/config"
)

// Repeated identical messages beyond the first throttleBurst in each
// throttleWindow are dropped.
const (
	throttleWindow = 5 * time.Second
	throttleBurst  = 5
)

// New builds a zap logger from cfg. Format "console" gives human-readable
// output; anything else gives JSON.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.WrapCore(Throttle),
	)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Throttle wraps core so that a message logged in a tight loop, such as a
// retry warning, is written at most throttleBurst times per throttleWindow.
func Throttle(core zapcore.Core) zapcore.Core {
	return zapcore.NewSamplerWithOptions(core, throttleWindow, throttleBurst, 0)
}
