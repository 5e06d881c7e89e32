// Package diag writes free-text diagnostic lines to stderr. The parent
// process forwards these lines for humans, it never parses them.
package diag

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultTag prefixes every diagnostic line
const DefaultTag = "[AGENT-DEBUG]"

// DebugMessage is one line kept in the history
type DebugMessage struct {
	Timestamp time.Time
	Component string
	Message   string
}

// Logger is the unified debug logger. Writes are best effort: when the
// underlying stream breaks, onBroken runs once and nothing more is written.
type Logger struct {
	mu       sync.Mutex
	w        io.Writer
	tag      string
	verbose  bool
	now      func() time.Time
	onBroken func(error)
	broken   bool

	history    []DebugMessage
	maxHistory int
}

// NewLogger creates a logger writing to w. An empty tag uses DefaultTag.
func NewLogger(w io.Writer, tag string, verbose bool) *Logger {
	if tag == "" {
		tag = DefaultTag
	}
	return &Logger{
		w:          w,
		tag:        tag,
		verbose:    verbose,
		now:        time.Now,
		maxHistory: 50, // Keep last 50 messages for the preview overlay
	}
}

// SetOnBroken registers the hook called when the stream can no longer be
// written. The agent uses it to exit quietly.
func (l *Logger) SetOnBroken(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onBroken = fn
}

// SetClock replaces the timestamp source
func (l *Logger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// DebugMsg writes one diagnostic line for component
func (l *Logger) DebugMsg(component, message string) {
	l.mu.Lock()
	timestamp := l.now()

	l.history = append(l.history, DebugMessage{
		Timestamp: timestamp,
		Component: component,
		Message:   message,
	})
	if len(l.history) > l.maxHistory {
		l.history = l.history[1:] // Remove oldest
	}

	if l.broken {
		l.mu.Unlock()
		return
	}

	line := fmt.Sprintf("%s[%s][%s] %s\n", l.tag, timestamp.Format("15:04:05.000"), component, message)
	_, err := io.WriteString(l.w, line)

	var hook func(error)
	if err != nil {
		l.broken = true
		hook = l.onBroken
	}
	l.mu.Unlock()

	// hook may exit the process, so run it outside the lock
	if hook != nil {
		hook(err)
	}
}

// DebugMsgVerbose only writes when verbose output is enabled
func (l *Logger) DebugMsgVerbose(component, message string) {
	if !l.verbose {
		return
	}
	l.DebugMsg(component, message)
}

// Verbose reports whether verbose output is enabled
func (l *Logger) Verbose() bool {
	return l.verbose
}

// Recent returns up to n of the newest messages, oldest first
func (l *Logger) Recent(n int) []DebugMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.history) {
		n = len(l.history)
	}
	out := make([]DebugMessage, n)
	copy(out, l.history[len(l.history)-n:])
	return out
}

// Broken reports whether a write to the stream has failed
func (l *Logger) Broken() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.broken
}
