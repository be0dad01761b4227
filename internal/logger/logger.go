// Package logger builds the structured logrus logger shared by every
// webp-shrink command.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig controls where conversion logs go and how much is kept.
type LoggerConfig struct {
	Level      string    // debug logs every encode attempt, info logs file outcomes
	FilePath   string    // rotated JSON log file; empty logs to the console only
	MaxSize    int       // megabytes per log file before rotation
	MaxBackups int       // rotated files kept
	MaxAge     int       // days a rotated file is kept
	Compress   bool      // gzip rotated files
	Console    bool      // also write entries to ConsoleOut
	ConsoleOut io.Writer // stderr when nil; stdout carries results and reports
}

// WithVerbosity applies the --verbose and --quiet command line switches.
// Verbose runs log at debug and mirror entries on the console. Quiet runs
// only keep errors and never touch the console.
func (c LoggerConfig) WithVerbosity(verbose, quiet bool) LoggerConfig {
	c.Console = verbose && !quiet
	switch {
	case quiet:
		c.Level = "error"
	case verbose:
		c.Level = "debug"
	}
	return c
}

// NewLogger returns a JSON logrus.Logger writing to a rotated file, the
// console, or both.
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())

	writers, err := outputs(config)
	if err != nil {
		return nil, err
	}
	switch len(writers) {
	case 0:
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	return logger, nil
}

func newFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyFunc:  "function",
		},
	}
}

func outputs(config LoggerConfig) ([]io.Writer, error) {
	var writers []io.Writer

	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}

	if config.Console || config.FilePath == "" {
		out := config.ConsoleOut
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, out)
	}
	return writers, nil
}

// WithFile tags an entry with the source image being processed.
func WithFile(logger *logrus.Logger, filePath string) *logrus.Entry {
	return logger.WithField("file", filePath)
}

// WithOperation tags an entry with a pipeline stage such as convert or save.
func WithOperation(logger *logrus.Logger, operation string) *logrus.Entry {
	return logger.WithField("operation", operation)
}

// WithFileOperation combines WithFile and WithOperation.
func WithFileOperation(logger *logrus.Logger, filePath, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"file":      filePath,
		"operation": operation,
	})
}

// WithBatch tags an entry with the batch ID.
func WithBatch(logger *logrus.Logger, batchID string) *logrus.Entry {
	return logger.WithField("batch", batchID)
}

// Discard returns a logger that drops every entry.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// DefaultConfig logs at info to webp-shrink.log and keeps the console free.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		FilePath:   "webp-shrink.log",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}
}
