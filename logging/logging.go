// Package logging builds the service logger. Logs go to stderr because
// stdout carries the data stream.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugEnv forces debug logging when set to "true".
const DebugEnv = "DEBUG"

// ParseLevel resolves the effective level. DEBUG=true wins over level.
func ParseLevel(level string, lookup func(string) string) (zapcore.Level, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	if strings.EqualFold(lookup(DebugEnv), "true") {
		return zapcore.DebugLevel, nil
	}
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// New returns a JSON logger writing to stderr.
func New(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level, nil)
	if err != nil {
		return nil, err
	}
	return NewWithWriter(os.Stderr, lvl), nil
}

// NewWithWriter returns a JSON logger writing to w at lvl.
func NewWithWriter(w io.Writer, lvl zapcore.Level) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zap.NewAtomicLevelAt(lvl),
	)
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
}
