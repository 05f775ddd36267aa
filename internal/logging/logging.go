// Package logging builds the coordinator's structured logger: JSON output
// tee'd to an arbitrary set of writers (stdout plus, optionally, a log
// file), so every component constructor threads a *zap.SugaredLogger
// rather than reaching for a package-level global. Adapted from the
// teacher's pkg/util/log.go, generalized to accept the writer set directly
// so tests can assert on log lines instead of only ever writing to disk.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON-encoded logger at Info level writing to every given
// writer (os.Stdout is typical; a file and/or a test buffer can be added).
// With no writers, it defaults to stdout alone.
func New(writers ...io.Writer) *zap.SugaredLogger {
	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := make([]zapcore.Core, 0, len(writers))
	for _, w := range writers {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(w), zap.InfoLevel))
	}

	return zap.New(zapcore.NewTee(cores...)).Sugar()
}

// NewWithFile builds a logger that writes to both stdout and logPath,
// creating the containing directory if necessary. Mirrors the teacher's
// NewLoggerWithFile.
func NewWithFile(logPath string) (*zap.SugaredLogger, func() error, error) {
	if dir := filepath.Dir(logPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, err
		}
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return New(os.Stdout, file), file.Close, nil
}
