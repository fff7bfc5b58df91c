package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the log file created inside the logs directory.
const FileName = "harvester.log"

// Options configures New.
type Options struct {
	// Dir is the logs directory. Empty disables the file sink.
	Dir string
	// Level is one of debug, info, warn or error.
	Level string
	// Terminal mirrors records to Stderr.
	Terminal bool
	// Stderr overrides os.Stderr for the terminal sink.
	Stderr io.Writer
}

// Logger appends structured records to <dir>/harvester.log so operators can
// inspect a long-running loop after the fact.
type Logger struct {
	*slog.Logger
	file *os.File
	path string
}

// New creates (or reuses) the log file and returns a logger writing to it.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	var sinks []io.Writer
	l := &Logger{}
	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		l.path = filepath.Join(dir, FileName)
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		l.file = f
		sinks = append(sinks, f)
	}
	if opts.Terminal {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		sinks = append(sinks, stderr)
	}
	if len(sinks) == 0 {
		l.Logger = Discard()
		return l, nil
	}
	handler := slog.NewTextHandler(io.MultiWriter(sinks...), &slog.HandlerOptions{Level: level})
	l.Logger = slog.New(handler)
	return l, nil
}

// Path returns the log file location, or "" when no file sink is open.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", name)
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
