package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger provides structured logging for the proxy and pollers
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Close() error
}

// Config holds logger configuration
type Config struct {
	FilePath string // empty means console only
	Verbose  bool
}

type logger struct {
	slog    *slog.Logger
	file    *os.File
	mu      sync.Mutex
	verbose bool
}

// New creates a new logger instance with console and optional file output
func New(cfg Config) (Logger, error) {
	var out io.Writer = os.Stdout
	var file *os.File

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, time.Now().Format("2006-01-02 15:04:05.000"))
			}
			return a
		},
	}

	handler := slog.NewTextHandler(out, opts)

	return &logger{
		slog:    slog.New(handler),
		file:    file,
		verbose: cfg.Verbose,
	}, nil
}

// Info logs informational messages
func (l *logger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slog.Info(msg, args...)
}

// Debug logs debug messages (only when verbose is enabled)
func (l *logger) Debug(msg string, args ...any) {
	if !l.verbose {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slog.Debug(msg, args...)
}

// Warn logs warning messages
func (l *logger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slog.Warn(msg, args...)
}

// Error logs error messages
func (l *logger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slog.Error(msg, args...)
}

// Close closes the log file
func (l *logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
