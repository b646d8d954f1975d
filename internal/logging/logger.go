// Package logging provides structured JSON logging with trace support.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger interface for structured logging with trace support
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})

	// Context-aware logging with trace IDs
	InfoContext(ctx context.Context, msg string, fields ...interface{})
	WarnContext(ctx context.Context, msg string, fields ...interface{})
	ErrorContext(ctx context.Context, msg string, fields ...interface{})
	DebugContext(ctx context.Context, msg string, fields ...interface{})

	// Trace ID management
	WithTraceID(traceID string) Logger
	WithComponent(component string) Logger
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// ContextKey represents keys used in context for trace IDs
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
)

// LogLevel represents logging levels
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// StructuredLogger implements structured logging with JSON output. Entries
// from concurrent goroutines serialize through a shared mutex so lines never
// interleave.
type StructuredLogger struct {
	level     LogLevel
	traceID   string
	component string
	useJSON   bool
	out       io.Writer
	mu        *sync.Mutex
	exit      func(int)
}

// NewLogger creates a new structured logger writing to stdout.
func NewLogger(level LogLevel) Logger {
	return NewWriterLogger(level, os.Stdout, getEnvBool("LOG_JSON", true))
}

// NewWriterLogger creates a logger with an explicit output and format.
func NewWriterLogger(level LogLevel, out io.Writer, useJSON bool) Logger {
	return &StructuredLogger{
		level:   level,
		useJSON: useJSON,
		out:     out,
		mu:      &sync.Mutex{},
		exit:    os.Exit,
	}
}

// getEnvBool gets a boolean environment variable with default
func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

// WithTraceID creates a new logger with a trace ID
func (l *StructuredLogger) WithTraceID(traceID string) Logger {
	clone := *l
	clone.traceID = traceID
	return &clone
}

// WithComponent creates a new logger with a component name
func (l *StructuredLogger) WithComponent(component string) Logger {
	clone := *l
	clone.component = component
	return &clone
}

// Info logs an info message
func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	if l.level <= INFO {
		l.logEntry("INFO", msg, "", fields...)
	}
}

// InfoContext logs an info message with context
func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	if l.level <= INFO {
		l.logEntry("INFO", msg, l.extractTraceID(ctx), fields...)
	}
}

// Warn logs a warning message
func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	if l.level <= WARN {
		l.logEntry("WARN", msg, "", fields...)
	}
}

// WarnContext logs a warning message with context
func (l *StructuredLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	if l.level <= WARN {
		l.logEntry("WARN", msg, l.extractTraceID(ctx), fields...)
	}
}

// Error logs an error message
func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	if l.level <= ERROR {
		l.logEntry("ERROR", msg, "", fields...)
	}
}

// ErrorContext logs an error message with context
func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	if l.level <= ERROR {
		l.logEntry("ERROR", msg, l.extractTraceID(ctx), fields...)
	}
}

// Debug logs a debug message
func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	if l.level <= DEBUG {
		l.logEntry("DEBUG", msg, "", fields...)
	}
}

// DebugContext logs a debug message with context
func (l *StructuredLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {
	if l.level <= DEBUG {
		l.logEntry("DEBUG", msg, l.extractTraceID(ctx), fields...)
	}
}

// Fatal logs a fatal message and exits
func (l *StructuredLogger) Fatal(msg string, fields ...interface{}) {
	l.logEntry("FATAL", msg, "", fields...)
	l.exit(1)
}

// logEntry creates and outputs a structured log entry
func (l *StructuredLogger) logEntry(level, msg, contextTraceID string, fields ...interface{}) {
	traceID := l.traceID
	if contextTraceID != "" {
		traceID = contextTraceID
	}

	// Pair up variadic fields; a trailing odd value keeps a synthetic key.
	var fieldMap map[string]interface{}
	if len(fields) > 0 {
		fieldMap = make(map[string]interface{}, (len(fields)+1)/2)
		for i := 0; i < len(fields); i += 2 {
			if i+1 < len(fields) {
				fieldMap[fmt.Sprintf("%v", fields[i])] = fields[i+1]
			} else {
				fieldMap[fmt.Sprintf("field_%d", i)] = fields[i]
			}
		}
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		TraceID:   traceID,
		Component: l.component,
		Fields:    fieldMap,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.useJSON {
		l.outputJSON(entry)
	} else {
		l.outputText(entry)
	}
}

// outputJSON outputs the log entry as JSON
func (l *StructuredLogger) outputJSON(entry LogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
		return
	}
	fmt.Fprintln(l.out, string(data))
}

// outputText outputs the log entry as human-readable text
func (l *StructuredLogger) outputText(entry LogEntry) {
	parts := []string{entry.Timestamp, fmt.Sprintf("[%s]", entry.Level)}

	if entry.TraceID != "" && len(entry.TraceID) >= 8 {
		parts = append(parts, "trace:"+entry.TraceID[:8])
	}
	if entry.Component != "" {
		parts = append(parts, "component:"+entry.Component)
	}

	parts = append(parts, entry.Message)

	for k, v := range entry.Fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}

	fmt.Fprintln(l.out, strings.Join(parts, " "))
}

// extractTraceID extracts trace ID from context
func (l *StructuredLogger) extractTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// Default logger instance
var defaultLogger = NewLogger(INFO)

// Package-level functions for convenience
func Info(msg string, fields ...interface{}) {
	defaultLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...interface{}) {
	defaultLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...interface{}) {
	defaultLogger.Error(msg, fields...)
}

func Debug(msg string, fields ...interface{}) {
	defaultLogger.Debug(msg, fields...)
}

func Fatal(msg string, fields ...interface{}) {
	defaultLogger.Fatal(msg, fields...)
}

// Context-aware package functions
func InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	defaultLogger.InfoContext(ctx, msg, fields...)
}

func WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	defaultLogger.WarnContext(ctx, msg, fields...)
}

func ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	defaultLogger.ErrorContext(ctx, msg, fields...)
}

func DebugContext(ctx context.Context, msg string, fields ...interface{}) {
	defaultLogger.DebugContext(ctx, msg, fields...)
}

// GenerateTraceID returns a fresh trace identifier.
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace ID on the context, minting one when empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID reads the trace ID from the context, if any.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithComponent returns the default logger tagged with a component name.
func WithComponent(component string) Logger {
	return defaultLogger.WithComponent(component)
}

// ParseLogLevel maps a level string to a LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// SetDefaultLogger sets the default logger instance
func SetDefaultLogger(logger Logger) {
	defaultLogger = logger
}

// NoOpLogger discards all logs (useful for testing).
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-op logger
func NewNoOpLogger() Logger { return &NoOpLogger{} }

func (n *NoOpLogger) Info(msg string, fields ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (n *NoOpLogger) Error(msg string, fields ...interface{}) {}
func (n *NoOpLogger) Debug(msg string, fields ...interface{}) {}
func (n *NoOpLogger) Fatal(msg string, fields ...interface{}) {}

func (n *NoOpLogger) InfoContext(ctx context.Context, msg string, fields ...interface{})  {}
func (n *NoOpLogger) WarnContext(ctx context.Context, msg string, fields ...interface{})  {}
func (n *NoOpLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {}
func (n *NoOpLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {}

func (n *NoOpLogger) WithTraceID(traceID string) Logger     { return n }
func (n *NoOpLogger) WithComponent(component string) Logger { return n }
