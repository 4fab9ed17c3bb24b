package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options selects level, format and destination of the logger
type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	Output string // stderr, stdout or a file path
}

// New builds a logger. File outputs are opened for append; the returned closer
// releases them and is a no-op otherwise.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("unknown log format: %s", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	switch opts.Output {
	case "", "stderr":
		logger.SetOutput(os.Stderr)
	case "stdout":
		logger.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		closer = f
	}

	return logger, closer, nil
}

// ParseLevel accepts debug, info, warn and error. Empty means info.
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "":
		return logrus.InfoLevel, nil
	case "debug", "info", "warn", "warning", "error":
		return logrus.ParseLevel(s)
	}
	return logrus.InfoLevel, fmt.Errorf("unknown log level: %s", s)
}

// Discard returns a logger that drops everything
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// NewRunID returns a fresh identifier attached to every log entry of one run
func NewRunID() string {
	return uuid.NewString()
}

// ForRun scopes logger to one processing run
func ForRun(logger logrus.FieldLogger, sessionID, runID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"run_id":     runID,
	})
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
