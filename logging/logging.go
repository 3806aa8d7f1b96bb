// Package logging provides the leveled console logger used by every crawlkit
// component. Lines have the form:
//
//	LEVEL TIMESTAMP [component] message key=value ...
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes leveled, component-tagged lines to an io.Writer.
// Loggers derived with WithComponent share the parent's output and lock.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	workerID  string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a level name (case-insensitive) into a Level.
// Unknown names fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// New creates a new Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything. Useful as a default.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		workerID:  l.workerID,
	}
}

// WithWorker returns a new logger that tags every line with worker=<id>.
func (l *Logger) WithWorker(workerID string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		workerID:  workerID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if l.workerID != "" {
		merged["worker"] = l.workerID
	}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Dispatch event helpers ---

// LeaderAcquired logs that this worker established the leader lease.
func (l *Logger) LeaderAcquired(key string, ttl time.Duration) {
	l.Info("leader_acquired", map[string]interface{}{
		"key": key,
		"ttl": ttl.String(),
	})
}

// HandlersActivated logs that leader-only handlers joined the active list.
func (l *Logger) HandlersActivated(names []string) {
	l.Info("leader_handlers_activated", map[string]interface{}{
		"handlers": strings.Join(names, ","),
	})
}

// TaskRouted logs the handler chosen for a popped task.
func (l *Logger) TaskRouted(kind, handler string) {
	l.Debug("task_routed", map[string]interface{}{
		"task":    kind,
		"handler": handler,
	})
}

// TaskFinished logs a processed task and the number of children it produced.
func (l *Logger) TaskFinished(kind, handler string, children int, duration time.Duration) {
	l.Info("task_finished", map[string]interface{}{
		"task":     kind,
		"handler":  handler,
		"children": children,
		"duration": duration.String(),
	})
}

// TaskUnroutable logs a dropped task that no handler accepted.
func (l *Logger) TaskUnroutable(kind string) {
	l.Warn("task_unroutable", map[string]interface{}{
		"task": kind,
	})
}

// TaskDeferred logs a task re-queued because its handler is not due yet.
func (l *Logger) TaskDeferred(kind, handler string) {
	l.Debug("task_deferred", map[string]interface{}{
		"task":    kind,
		"handler": handler,
	})
}

// QueueEmpty logs that the queue was empty and the loop is going to sleep.
func (l *Logger) QueueEmpty(queue string, sleep time.Duration) {
	l.Debug("queue_empty", map[string]interface{}{
		"queue": queue,
		"sleep": sleep.String(),
	})
}
