// Package logging builds the zap logger shared by the chain, the contract
// instances and the command layer.
package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TimeLayout is the timestamp format of every log line.
const TimeLayout = "2006-01-02 15:04:05"

// New builds a production logger writing JSON lines to stderr at logLevel
// ("debug", "info", "warn" or "error").
func New(logLevel string) (*zap.Logger, error) {
	level, err := ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoder(func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(TimeLayout))
	})
	config.Level.SetLevel(level)

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ParseLevel maps a level name to a zap level. An empty name means warn.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zap.WarnLevel, nil
	}
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return zap.WarnLevel, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
