// Package logging builds the shared zap logger used across the engine.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.SugaredLogger. verbose selects Debug level; otherwise Info.
func New(verbose bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// zap's development config building should not fail; fall back to a
		// no-op logger rather than panicking the engine over a logging defect.
		logger = zap.NewNop()
	}

	return logger.Sugar()
}

// Noop returns a logger that discards everything, for use in tests.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
