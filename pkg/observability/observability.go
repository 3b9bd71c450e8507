// Package observability provides the structured logging hooks used by the
// rasterizer worker, the conversion engine and the command-line tools.
package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type field struct {
	key string
	val interface{}
}

func (f field) Key() string        { return f.key }
func (f field) Value() interface{} { return f.val }

func String(key, value string) Field                 { return field{key, value} }
func Int(key string, value int) Field                { return field{key, value} }
func Int64(key string, value int64) Field            { return field{key, value} }
func Uint64(key string, value uint64) Field          { return field{key, value} }
func Float(key string, value float64) Field          { return field{key, value} }
func Bool(key string, value bool) Field              { return field{key, value} }
func Duration(key string, value time.Duration) Field { return field{key, value} }
func Error(key string, err error) Field              { return field{key, err} }

// Any wraps an arbitrary value, formatted with %v.
func Any(key string, value interface{}) Field { return field{key, value} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel accepts debug, info, warn (or warning) and error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// TextLogger writes one "time level msg key=value ..." line per call.
type TextLogger struct {
	mu     *sync.Mutex
	w      io.Writer
	level  Level
	fields []Field
	now    func() time.Time
}

func NewTextLogger(w io.Writer, level Level) *TextLogger {
	return &TextLogger{mu: &sync.Mutex{}, w: w, level: level, now: time.Now}
}

func (l *TextLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *TextLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *TextLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *TextLogger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *TextLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &TextLogger{mu: l.mu, w: l.w, level: l.level, fields: merged, now: l.now}
}

func (l *TextLogger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(l.now().Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range l.fields {
		writeField(&b, f)
	}
	for _, f := range fields {
		writeField(&b, f)
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.w, b.String())
}

func writeField(b *strings.Builder, f Field) {
	b.WriteByte(' ')
	b.WriteString(f.Key())
	b.WriteByte('=')
	var s string
	switch v := f.Value().(type) {
	case string:
		s = v
	case error:
		if v == nil {
			s = "<nil>"
		} else {
			s = v.Error()
		}
	default:
		s = fmt.Sprint(v)
	}
	if strings.ContainsAny(s, " \t\n\"=") {
		s = fmt.Sprintf("%q", s)
	}
	b.WriteString(s)
}
