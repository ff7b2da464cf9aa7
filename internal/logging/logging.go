// Package logging builds the zap loggers handed to every component.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field names shared across components.
const (
	FieldComponent   = "component"
	FieldFrameID     = "frame_id"
	FieldModel       = "model"
	FieldDevice      = "device"
	FieldThreads     = "threads"
	FieldRuntime     = "runtime"
	FieldOrientation = "orientation"
	FieldDurationMS  = "duration_ms"
	FieldPath        = "path"
	FieldAddress     = "address"
)

// Options selects the encoder and minimum level.
type Options struct {
	JSON  bool
	Level string
}

// New returns a JSON production logger or a console development logger.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Level != "" {
		parsed, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.DisableStacktrace = true
	}
	cfg.Level = level
	return cfg.Build()
}

// Named returns a child logger tagged with a component name.
func Named(logger *zap.Logger, component string) *zap.Logger {
	return logger.Named(component).With(zap.String(FieldComponent, component))
}
