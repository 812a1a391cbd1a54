package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AccessLogEntry represents a single Execution API request, logged
// independently of the operational slog logger so per-request volume
// never competes with daemon-level log retention.
type AccessLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	SessionID  string    `json:"session_id,omitempty"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// AccessLogger writes AccessLogEntry records to the console and,
// optionally, to a JSON-lines file.
type AccessLogger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultAccessLogger = &AccessLogger{enabled: true, console: true}

// DefaultAccess returns the default access logger.
func DefaultAccess() *AccessLogger {
	return defaultAccessLogger
}

// SetOutput sets the access log output file.
func (l *AccessLogger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *AccessLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes an access log entry.
func (l *AccessLogger) Log(entry *AccessLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "ok"
		if entry.Status >= 400 {
			status = "err"
		}
		fmt.Printf("[api] %s %s %s %d %dms\n", status, entry.Method, entry.Path, entry.Status, entry.DurationMs)
		if entry.Error != "" {
			fmt.Printf("[api]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the access log file.
func (l *AccessLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
