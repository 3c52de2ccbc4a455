// Package logging builds the zap loggers used across trackload.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported modes.
const (
	ModeNop         = "nop"
	ModeDevelopment = "development"
	ModeProduction  = "production"
	ModeJSON        = "json"
)

// Modes lists the accepted values of New.
func Modes() []string {
	return []string{ModeNop, ModeDevelopment, ModeProduction, ModeJSON}
}

// New returns a logger for mode. Empty means nop. Log output goes to stderr
// so it never mixes with results printed on stdout.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config

	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeNop, "off", "none":
		return zap.NewNop(), nil
	case ModeDevelopment, "dev", "debug":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case ModeProduction, ModeJSON:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Sampling = nil // log every failure
	default:
		return nil, fmt.Errorf("unknown log mode %q (want one of %s)", mode, strings.Join(Modes(), ", "))
	}

	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
