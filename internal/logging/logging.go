package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Setup installs the global zap logger. Debug messages are only shown when
// debug is set. The returned function flushes the logger.
func Setup(debug bool) (func(), error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.DisableStacktrace = true
	if !debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to produce a logger: %w", err)
	}
	restore := zap.ReplaceGlobals(logger)
	return func() {
		logger.Sync()
		restore()
	}, nil
}
