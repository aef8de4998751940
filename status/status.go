// Package status provides the status/log sink used by the sync engine.
package status

import (
	"fmt"
	"sync"
	"time"
)

// Severity classifies a status entry.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Entry is one recorded status message.
type Entry struct {
	Time     time.Time
	Severity Severity
	Message  string
}

// Sink receives status messages from the engine. Every subscription failure,
// connection milestone, and transform abort goes through a Sink.
type Sink interface {
	Append(message string, severity Severity)
}

// Func adapts a plain function to the Sink interface.
type Func func(message string, severity Severity)

func (f Func) Append(message string, severity Severity) { f(message, severity) }

// Discard is a Sink that drops all messages.
var Discard Sink = Func(func(string, Severity) {})

// Appendf formats a message and appends it to the sink.
func Appendf(s Sink, sev Severity, format string, args ...interface{}) {
	if s == nil {
		return
	}
	s.Append(fmt.Sprintf(format, args...), sev)
}

// Log is an in-memory ring of status entries with an optional change
// callback. It is safe for concurrent use from multiple goroutines.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	max      int
	onAppend func(Entry)
}

// NewLog creates a status log keeping at most max entries (oldest dropped).
func NewLog(max int) *Log {
	if max <= 0 {
		max = 1000
	}
	return &Log{max: max}
}

// SetOnAppend sets a callback fired after each append. The callback runs on
// the appender's goroutine and must not call back into the log.
func (l *Log) SetOnAppend(fn func(Entry)) {
	l.mu.Lock()
	l.onAppend = fn
	l.mu.Unlock()
}

// Append records a message.
func (l *Log) Append(message string, severity Severity) {
	e := Entry{Time: time.Now(), Severity: severity, Message: message}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	fn := l.onAppend
	l.mu.Unlock()

	if fn != nil {
		fn(e)
	}
}

// Entries returns a copy of the recorded entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]Entry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear removes all entries.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
