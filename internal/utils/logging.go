package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerOptions configures InitLogger.
type LoggerOptions struct {
	Level           string
	Output          io.Writer
	Prefix          string
	ReportTimestamp bool
	ReportCaller    bool
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = log.Default()
)

// InitLogger builds a structured logger from opts. Output defaults to stderr.
func InitLogger(opts LoggerOptions) *log.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return log.NewWithOptions(out, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.ReportTimestamp,
		ReportCaller:    opts.ReportCaller,
		TimeFormat:      time.RFC3339,
	})
}

// InitDefaultLogger creates the CLI logger. CMDGATE_LOG_LEVEL overrides the
// default warn level.
func InitDefaultLogger() *log.Logger {
	level := os.Getenv("CMDGATE_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger := InitLogger(LoggerOptions{Level: level, Prefix: "cmdgate"})
	SetDefaultLogger(logger)
	return logger
}

// InitDaemonLogger creates a logger writing to stderr and ~/.cmdgate/daemon.log.
func InitDaemonLogger(level string) (*log.Logger, error) {
	if !ValidLogLevel(level) {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".cmdgate")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "daemon.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening daemon log: %w", err)
	}
	return InitLogger(LoggerOptions{
		Level:           level,
		Output:          io.MultiWriter(os.Stderr, f),
		Prefix:          "cmdgate-daemon",
		ReportTimestamp: true,
	}), nil
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// ValidLogLevel reports whether s names a known level.
func ValidLogLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error", "fatal":
		return true
	default:
		return false
	}
}

// GetDefaultLogger returns the process-wide logger.
func GetDefaultLogger() *log.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger. Nil is ignored.
func SetDefaultLogger(l *log.Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}
