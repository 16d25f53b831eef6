package otel

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger serializes events as JSONL. Writes are synchronous: a run emits a
// few dozen events, and a crash mid-run should still leave them on disk.
type Logger struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	runID   string
	dropped uint64
}

// NewLogger creates a Logger writing JSONL to w with a fresh run id.
func NewLogger(w io.Writer) *Logger {
	return &Logger{
		w:     w,
		runID: uuid.NewString(),
	}
}

// OpenFile appends events to the file at path, creating it if needed.
func OpenFile(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := NewLogger(f)
	l.closer = f
	return l, nil
}

// NewNullLogger creates a Logger that discards output.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

// RunID returns the id stamped on every event from this logger.
func (l *Logger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// Emit writes an event. Sets Time (if zero) and RunID. A nil Logger is a
// no-op so components can hold an optional logger.
func (l *Logger) Emit(e Event) {
	if l == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.RunID = l.runID

	data, err := json.Marshal(e)
	if err != nil {
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(data); err != nil {
		l.dropped++
	}
}

// Info emits an info-level event.
func (l *Logger) Info(kind EventKind, comp string, msg string) {
	l.Emit(Event{Level: LevelInfo, Kind: kind, Comp: comp, Msg: msg})
}

// Warn emits a warn-level event.
func (l *Logger) Warn(kind EventKind, comp string, msg string) {
	l.Emit(Event{Level: LevelWarn, Kind: kind, Comp: comp, Msg: msg})
}

// Error emits an error-level event. Nil err is safe (logged as empty string).
func (l *Logger) Error(kind EventKind, comp string, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	l.Emit(Event{Level: LevelError, Kind: kind, Comp: comp, Err: errStr})
}

// Dropped returns the number of events that failed to encode or write.
func (l *Logger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close closes the underlying file, if the logger owns one.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	if d := l.Dropped(); d > 0 {
		fmt.Fprintf(os.Stderr, "linkpost: %d events dropped during run %s\n", d, l.runID)
	}
	return l.closer.Close()
}
