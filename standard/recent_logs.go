// Package standard provides the shared logging, fetch tracking and
// connectivity components used across the client.
package standard

import (
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// LogStats summarizes the buffered entries per level.
type LogStats struct {
	Total    int `json:"total_count"`
	Errors   int `json:"errors_count"`
	Warnings int `json:"warnings_count"`
	Info     int `json:"info_count"`
	Debug    int `json:"debug_count"`
}

// RecentLogs keeps the last N log entries in memory and mirrors every entry
// to a standard library logger.
type RecentLogs struct {
	mu          sync.Mutex
	entries     []LogEntry
	maxEntries  int
	out         *log.Logger
	triggerFunc func(LogEntry) // called on Error/Warn
}

// NewRecentLogs creates a new RecentLogs tracker writing to stderr.
func NewRecentLogs(maxEntries int) *RecentLogs {
	return NewRecentLogsTo(maxEntries, os.Stderr)
}

// NewRecentLogsTo creates a RecentLogs tracker mirroring to w. A nil w discards output.
func NewRecentLogsTo(maxEntries int, w io.Writer) *RecentLogs {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if w == nil {
		w = io.Discard
	}
	return &RecentLogs{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
		out:        log.New(w, "[quakefeed] ", log.LstdFlags|log.LUTC),
	}
}

// SetTriggerFunc sets the function called after an Error or Warn entry.
func (r *RecentLogs) SetTriggerFunc(fn func(LogEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggerFunc = fn
}

// Log adds an entry with structured context and mirrors it to the logger.
func (r *RecentLogs) Log(level LogLevel, message string, context map[string]interface{}) LogEntry {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   context,
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	// ring buffer
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}
	r.mu.Unlock()

	if len(context) == 0 {
		r.out.Printf("[%s] %s", level, message)
	} else {
		r.out.Printf("[%s] %s %v", level, message, context)
	}
	return entry
}

// Error logs an error message with context and fires the trigger.
func (r *RecentLogs) Error(message string, context map[string]interface{}) {
	r.fire(r.Log(LevelError, message, context))
}

// Warn logs a warning message with context and fires the trigger.
func (r *RecentLogs) Warn(message string, context map[string]interface{}) {
	r.fire(r.Log(LevelWarn, message, context))
}

// Info logs an info message with context.
func (r *RecentLogs) Info(message string, context map[string]interface{}) {
	r.Log(LevelInfo, message, context)
}

// Debug logs a debug message with context.
func (r *RecentLogs) Debug(message string, context map[string]interface{}) {
	r.Log(LevelDebug, message, context)
}

// WarnNoTrigger logs a warning without firing the trigger.
// Library code uses it for expected, per-item problems such as a skipped feature.
func (r *RecentLogs) WarnNoTrigger(message string, context map[string]interface{}) {
	r.Log(LevelWarn, message, context)
}

// ErrorNoTrigger logs an error without firing the trigger.
func (r *RecentLogs) ErrorNoTrigger(message string, context map[string]interface{}) {
	r.Log(LevelError, message, context)
}

func (r *RecentLogs) fire(entry LogEntry) {
	r.mu.Lock()
	fn := r.triggerFunc
	r.mu.Unlock()

	if fn != nil {
		fn(entry)
	}
}

// Entries returns a copy of the buffered entries, oldest first.
func (r *RecentLogs) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Stats counts the buffered entries per level.
func (r *RecentLogs) Stats() LogStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := LogStats{Total: len(r.entries)}
	for _, entry := range r.entries {
		switch entry.Level {
		case LevelError:
			stats.Errors++
		case LevelWarn:
			stats.Warnings++
		case LevelInfo:
			stats.Info++
		case LevelDebug:
			stats.Debug++
		}
	}
	return stats
}
