// Package logger builds the zap loggers shared by every grokgate component.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var levels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// NewLogger creates a new zap logger with the specified level and format.
// Format "json" yields the production encoder, anything else a colored console encoder.
func NewLogger(level, format string) (*zap.Logger, error) {
	zapLevel, ok := levels[level]
	if !ok {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var config zap.Config
	if format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.InitialFields = map[string]interface{}{"service": "grokgate"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// Component returns a child logger tagged with the component name.
func Component(base *zap.Logger, name string) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.Named(name).With(zap.String("component", name))
}

// NewDevelopmentLogger creates a development logger with console output
func NewDevelopmentLogger() (*zap.Logger, error) {
	return NewLogger("debug", "console")
}

// NewProductionLogger creates a production logger with JSON output
func NewProductionLogger() (*zap.Logger, error) {
	return NewLogger("info", "json")
}
