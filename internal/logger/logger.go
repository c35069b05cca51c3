// Package logger provides level-gated, fixed-column logging for the
// anonymizer service.
//
// Each entry is one line:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION               | LEVEL | message key=value ...
//
// Levels (lowest to highest): debug, info, warn, error. Entries below the
// configured level are dropped. Log lines never carry document text; callers
// pass counts and identifiers only.
//
// Usage:
//
//	log := logger.New("SERVER", cfg.LogLevel)
//	log.Info("anonymize", "request done", "id", reqID, "tokens", rep.Total())
//	log.Errorf("listen", "bind %s: %v", addr, err)
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a log severity.
type Level int

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelLabels = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO ",
	LevelWarn:  "WARN ",
	LevelError: "ERROR",
}

// Logger writes log lines for a single module.
type Logger struct {
	module string
	level  Level

	mu  *sync.Mutex
	out io.Writer
	now func() time.Time
}

// New creates a Logger writing to stderr, gated at the given level string.
// Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	return NewWithWriter(module, levelStr, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(module, levelStr string, w io.Writer) *Logger {
	return &Logger{
		module: strings.ToUpper(module),
		level:  ParseLevel(levelStr),
		mu:     &sync.Mutex{},
		out:    w,
		now:    time.Now,
	}
}

// Module returns a Logger for another module sharing this one's level and
// destination.
func (l *Logger) Module(module string) *Logger {
	c := *l
	c.module = strings.ToUpper(module)
	return &c
}

// SetLevel changes the minimum log level.
func (l *Logger) SetLevel(levelStr string) {
	l.level = ParseLevel(levelStr)
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool { return level >= l.level }

// Debug logs at DEBUG level. kv is an alternating list of keys and values.
func (l *Logger) Debug(action, msg string, kv ...any) { l.write(LevelDebug, action, msg, kv) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string, kv ...any) { l.write(LevelInfo, action, msg, kv) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string, kv ...any) { l.write(LevelWarn, action, msg, kv) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string, kv ...any) { l.write(LevelError, action, msg, kv) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	l.write(LevelDebug, action, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.write(LevelInfo, action, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.write(LevelWarn, action, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.write(LevelError, action, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) write(level Level, action, msg string, kv []any) {
	if level < l.level {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %-12s | %-22s | %s | %s",
		l.now().Format("2006-01-02 15:04:05.000"), l.module, action, levelLabels[level], msg)
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, " %v=(missing)", kv[i])
		}
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, b.String()) //nolint:errcheck // nowhere to report a failed log write
}

// ParseLevel converts a string to a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
