package mocks

import (
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/gaborage/apiprobe/logger"
)

// Entry is one captured log line.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
	Err     error
}

// Logger is a logger.Logger that keeps every entry in memory.
// It is safe for concurrent use; derived loggers share the same sink.
//
// Example usage:
//
//	log := mocks.NewLogger()
//	exec := retry.NewExecutor(policy, log)
//	...
//	assert.Len(t, log.EntriesAt("warn"), 2)
type Logger struct {
	sink   *sink
	fields map[string]any
}

type sink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLogger creates an empty capturing logger.
func NewLogger() *Logger {
	return &Logger{sink: &sink{}}
}

var _ logger.Logger = (*Logger)(nil)

// Entries returns a copy of all captured entries in emission order.
func (l *Logger) Entries() []Entry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	out := make([]Entry, len(l.sink.entries))
	copy(out, l.sink.entries)
	return out
}

// EntriesAt returns the captured entries of one level ("debug", "info", "warn", "error", "fatal").
func (l *Logger) EntriesAt(level string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether any message at level contains substr.
func (l *Logger) Contains(level, substr string) bool {
	for _, e := range l.EntriesAt(level) {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Reset discards captured entries.
func (l *Logger) Reset() {
	l.sink.mu.Lock()
	l.sink.entries = nil
	l.sink.mu.Unlock()
}

func (l *Logger) Info() logger.LogEvent  { return l.event("info") }
func (l *Logger) Error() logger.LogEvent { return l.event("error") }
func (l *Logger) Debug() logger.LogEvent { return l.event("debug") }
func (l *Logger) Warn() logger.LogEvent  { return l.event("warn") }
func (l *Logger) Fatal() logger.LogEvent { return l.event("fatal") }

// WithContext returns l unchanged.
func (l *Logger) WithContext(_ any) logger.Logger { return l }

// WithFields returns a logger sharing l's sink whose entries carry fields.
func (l *Logger) WithFields(fields map[string]any) logger.Logger {
	merged := maps.Clone(l.fields)
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	maps.Copy(merged, fields)
	return &Logger{sink: l.sink, fields: merged}
}

func (l *Logger) event(level string) logger.LogEvent {
	fields := maps.Clone(l.fields)
	if fields == nil {
		fields = make(map[string]any)
	}
	return &event{sink: l.sink, entry: Entry{Level: level, Fields: fields}}
}

type event struct {
	sink  *sink
	entry Entry
}

func (e *event) set(key string, v any) logger.LogEvent {
	e.entry.Fields[key] = v
	return e
}

func (e *event) Msg(msg string) {
	e.entry.Message = msg
	e.sink.mu.Lock()
	e.sink.entries = append(e.sink.entries, e.entry)
	e.sink.mu.Unlock()
}

func (e *event) Msgf(format string, args ...any) { e.Msg(fmt.Sprintf(format, args...)) }

func (e *event) Err(err error) logger.LogEvent {
	e.entry.Err = err
	return e
}

func (e *event) Str(key, value string) logger.LogEvent { return e.set(key, value) }

func (e *event) Int(key string, value int) logger.LogEvent { return e.set(key, value) }

func (e *event) Int64(key string, value int64) logger.LogEvent { return e.set(key, value) }

func (e *event) Uint64(key string, value uint64) logger.LogEvent { return e.set(key, value) }

func (e *event) Dur(key string, d time.Duration) logger.LogEvent { return e.set(key, d) }

func (e *event) Interface(key string, i any) logger.LogEvent { return e.set(key, i) }

func (e *event) Bytes(key string, val []byte) logger.LogEvent { return e.set(key, string(val)) }
