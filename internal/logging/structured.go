// Package logging provides structured JSON logging for Lumina components.
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
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a level name onto a Level, defaulting to info.
func ParseLevel(s string) Level {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; ok {
		return l
	}
	return LevelInfo
}

// Event represents a structured log event
type Event struct {
	Timestamp string         `json:"ts"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Duration  int64          `json:"duration_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// sink is shared by every logger so output lines never interleave.
type sink struct {
	mu  sync.Mutex
	out io.Writer
	min Level
}

var std = &sink{out: os.Stderr, min: ParseLevel(os.Getenv("LUMINA_LOG_LEVEL"))}

// SetOutput redirects all loggers. Tests use it to capture events.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out = w
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.min = l
}

// Logger provides structured logging
type Logger struct {
	component string
	requestID string
	userID    string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithContext returns a logger that tags events with the request ID and
// session user carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	userID := GetUserID(ctx)
	if userID == "" {
		userID = l.userID
	}
	return &Logger{
		component: l.component,
		requestID: GetRequestID(ctx),
		userID:    userID,
	}
}

// WithUser tags events with a session user identifier.
func (l *Logger) WithUser(userID string) *Logger {
	return &Logger{
		component: l.component,
		requestID: l.requestID,
		userID:    userID,
	}
}

func (l *Logger) emit(e Event) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if levelRank[e.Level] < levelRank[std.min] {
		return
	}
	data, _ := json.Marshal(e)
	fmt.Fprintln(std.out, string(data))
}

func (l *Logger) event(level Level, event string, extra map[string]any, err error) Event {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		RequestID: l.requestID,
		UserID:    l.userID,
		Extra:     extra,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]any) {
	l.emit(l.event(LevelDebug, event, extra, nil))
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]any) {
	l.emit(l.event(LevelInfo, event, extra, nil))
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]any, err error) {
	l.emit(l.event(LevelWarn, event, extra, err))
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]any, err error) {
	l.emit(l.event(LevelError, event, extra, err))
}

// TimedEvent logs an event with duration. A non-nil err raises it to error level.
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]any, err error) {
	level := LevelInfo
	if err != nil {
		level = LevelError
	}
	e := l.event(level, event, extra, err)
	e.Duration = time.Since(start).Milliseconds()
	l.emit(e)
}
