// Package logging provides structured logging with file output support.
// It is configured through NATIVEPATCH_* environment variables.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

const (
	EnvLevel  = "NATIVEPATCH_LOG_LEVEL"
	EnvPrefix = "NATIVEPATCH_LOG_PREFIX"
	EnvToFile = "NATIVEPATCH_LOG_TO_FILE"

	// FilePattern matches the log files NewLogger creates.
	FilePattern = "nativepatch-*-debug.log"
)

var ErrNoLogFile = errors.New("no log file found")

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
	// Path is the log file, empty when logging to stderr.
	Path string
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(Level())

	prefix := os.Getenv(EnvPrefix)
	if prefix == "" {
		prefix = "nativepatch "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// NATIVEPATCH_LOG_LEVEL: debug, info, warn, error (default: info)
// NATIVEPATCH_LOG_PREFIX: prefix for log messages (default: "nativepatch ")
// NATIVEPATCH_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger() *LoggerCloser {
	output := io.Writer(os.Stderr)
	var path string

	if os.Getenv(EnvToFile) == "1" {
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("nativepatch-%s-debug.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
			path = logFile
		}
		// If file creation fails, fall back to stderr
	}

	lc := NewLoggerWithWriter(output)
	lc.Path = path
	return lc
}

// Level returns the level selected by NATIVEPATCH_LOG_LEVEL.
func Level() log.Level {
	switch os.Getenv(EnvLevel) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv(EnvLevel) == "debug"
}

// LatestLogFile returns the newest debug log in dir. The timestamp in the
// name sorts lexically, so the last match wins.
func LatestLogFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, FilePattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoLogFile, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
