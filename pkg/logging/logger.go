package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a level name into a LogLevel, defaulting to INFO
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Field is a structured log attribute
type Field = slog.Attr

// String creates a string field
func String(key, value string) Field { return slog.String(key, value) }

// Int creates an integer field
func Int(key string, value int) Field { return slog.Int(key, value) }

// Float creates a float field
func Float(key string, value float64) Field { return slog.Float64(key, value) }

// Bool creates a boolean field
func Bool(key string, value bool) Field { return slog.Bool(key, value) }

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Component creates a component field
func Component(component string) Field { return slog.String("component", component) }

// Logger provides leveled structured logging in text or json format
type Logger struct {
	mu      sync.RWMutex
	level   *slog.LevelVar
	format  string
	output  io.Writer
	service string
	fields  []Field
	slog    *slog.Logger
}

// NewLogger creates a new logger writing text to stdout at INFO level
func NewLogger() *Logger {
	l := &Logger{
		level:   new(slog.LevelVar),
		format:  "text",
		output:  os.Stdout,
		service: "mimir-curation",
	}
	l.rebuild()
	return l
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

// SetFormat sets the logging format ("json" or "text")
func (l *Logger) SetFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = strings.ToLower(format)
	l.rebuild()
}

// SetOutput sets the logging output destination
func (l *Logger) SetOutput(output io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = output
	l.rebuild()
}

// SetService sets the service name attached to every entry
func (l *Logger) SetService(service string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.service = service
	l.rebuild()
}

// rebuild recreates the slog handler; callers hold the lock or own the logger
func (l *Logger) rebuild() {
	opts := &slog.HandlerOptions{Level: l.level}
	var handler slog.Handler
	if l.format == "json" {
		handler = slog.NewJSONHandler(l.output, opts)
	} else {
		handler = slog.NewTextHandler(l.output, opts)
	}
	attrs := append([]Field{slog.String("service", l.service)}, l.fields...)
	l.slog = slog.New(handler.WithAttrs(attrs))
}

func (l *Logger) logger() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.slog
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	l.logger().LogAttrs(context.Background(), slog.LevelDebug, msg, fields...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	l.logger().LogAttrs(context.Background(), slog.LevelInfo, msg, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	l.logger().LogAttrs(context.Background(), slog.LevelWarn, msg, fields...)
}

// Error logs an error message
func (l *Logger) Error(msg string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, Error(err))
	}
	l.logger().LogAttrs(context.Background(), slog.LevelError, msg, fields...)
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(msg string, err error, fields ...Field) {
	l.Error(msg, err, fields...)
	os.Exit(1)
}

// WithFields returns a child logger that adds fields to every entry.
// The child shares the level with its parent.
func (l *Logger) WithFields(fields ...Field) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	child := &Logger{
		level:   l.level,
		format:  l.format,
		output:  l.output,
		service: l.service,
		fields:  append(append([]Field(nil), l.fields...), fields...),
	}
	child.rebuild()
	return child
}

// Config holds logger settings
type Config struct {
	Level  string
	Format string
	Output string
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = NewLogger()
	})
	return globalLogger
}

// InitLogger configures the global logger
func InitLogger(config Config) error {
	logger := GetLogger()
	logger.SetLevel(ParseLevel(config.Level))

	switch strings.ToLower(config.Format) {
	case "", "text", "json":
		logger.SetFormat(config.Format)
	default:
		return fmt.Errorf("unsupported log format: %s", config.Format)
	}

	switch strings.ToLower(config.Output) {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		return fmt.Errorf("unsupported log output: %s", config.Output)
	}

	return nil
}
