// Package logging wires up the diagnostic logger used by
// cmd/recorder-dump and, when a caller passes one in, the library packages
// (recorder.New, shm.Create) that accept a *zap.SugaredLogger.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config controls the logging subsystem.
type Config struct {
	// Level is the minimum level that reaches stderr.
	Level zapcore.Level `yaml:"level"`
}

// Init builds a SugaredLogger writing colorized console output to
// stderr when it is a terminal, plain otherwise, and an AtomicLevel a
// caller can use to change the level at runtime. cmd/recorder-dump
// wires the returned AtomicLevel to a "log_level" tweakable, so the
// level can be changed through the same Registry.Configure path used
// for every other runtime knob.
func Init(cfg Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()

	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), config.Level, nil
}
