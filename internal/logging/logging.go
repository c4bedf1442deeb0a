// Package logging builds the process zap logger: stdout in JSON or console form, plus an optional
// rotated file.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level       string // debug, info, warn, error
	Format      string // json or console
	File        string // empty disables file output
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Service     string
	Environment string
}

// New returns a logger and a close func that flushes it and releases the log file.
func New(opts Options) (*zap.Logger, func() error, error) {
	return newWithStdout(opts, os.Stdout)
}

func newWithStdout(opts Options, stdout io.Writer) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %s: %w", opts.Level, err)
		}
		level = l
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var stdoutEncoder zapcore.Encoder
	switch opts.Format {
	case "", "json":
		stdoutEncoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		stdoutEncoder = zapcore.NewConsoleEncoder(consoleConfig)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(stdoutEncoder, zapcore.AddSync(stdout), level)}
	closeFile := func() error { return nil }
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
		closeFile = rotator.Close
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.Service != "" {
		logger = logger.With(zap.String("service", opts.Service))
	}
	if opts.Environment != "" {
		logger = logger.With(zap.String("env", opts.Environment))
	}
	closer := func() error {
		_ = logger.Sync() // stdout sync fails on some terminals
		return closeFile()
	}
	return logger, closer, nil
}
