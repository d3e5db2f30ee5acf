// Package logging builds the leveled logger shared by the dfir binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Logger wraps a charmbracelet logger and closes its log file, if any.
type Logger struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a log level. Anything else is info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewWithWriter creates a logger writing to w, configured from the environment.
func NewWithWriter(w io.Writer) *Logger {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(ParseLevel(os.Getenv("DFIR_LOG_LEVEL")))

	prefix := os.Getenv("DFIR_LOG_PREFIX")
	if prefix == "" {
		prefix = "dfir"
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &Logger{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// New creates a logger based on environment variables
// DFIR_LOG_LEVEL: debug, info, warn, error (default: info)
// DFIR_LOG_PREFIX: prefix for log messages (default: "dfir")
// DFIR_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func New() *Logger {
	output := io.Writer(os.Stderr)

	if os.Getenv("DFIR_LOG_TO_FILE") == "1" {
		logFile := fmt.Sprintf("dfir-%s.log", time.Now().Format("20060102-150405"))
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
		// stderr fallback
	}

	return NewWithWriter(output)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
