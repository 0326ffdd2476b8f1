// Package logging provides the leveled, field-carrying logger used across
// the bridge.
//
// Two output formats are supported. The text format writes
//
//	2006-01-02T15:04:05.000 [INFO] nvimbridge: message {key=value}
//
// and the JSON format writes one object per line with "time", "level",
// "prefix", "msg" and every attached field as a top-level key.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/sjson"
)

// Level represents the severity level of a log message.
type Level int

const (
	// LevelDebug is for detailed debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown names yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevel reports whether s names a known level.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// Format selects the line encoding.
type Format int

const (
	// FormatText writes human-readable lines.
	FormatText Format = iota
	// FormatJSON writes one JSON object per line.
	FormatJSON
)

// ParseFormat parses "text" or "json". Anything else yields FormatText.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// sink is the output shared by a logger and every child derived from it.
type sink struct {
	mu     sync.Mutex
	output io.Writer
}

// Logger provides structured logging.
type Logger struct {
	sink     *sink
	level    Level
	format   Format
	prefix   string
	fields   map[string]any
	disabled bool
	now      func() time.Time
}

// Config configures the logger.
type Config struct {
	// Level is the minimum log level to output.
	Level Level
	// Format selects text or JSON lines.
	Format Format
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Prefix is prepended to all log messages.
	Prefix string
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: os.Stderr,
		Prefix: "nvimbridge",
	}
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Logger{
		sink:   &sink{output: cfg.Output},
		level:  cfg.Level,
		format: cfg.Format,
		prefix: cfg.Prefix,
		fields: make(map[string]any),
		now:    time.Now,
	}
}

// Nop returns a logger that discards all output.
func Nop() *Logger {
	return &Logger{sink: &sink{output: io.Discard}, disabled: true, now: time.Now}
}

func (l *Logger) derive(fields map[string]any) *Logger {
	newFields := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &Logger{
		sink:     l.sink,
		level:    l.level,
		format:   l.format,
		prefix:   l.prefix,
		fields:   newFields,
		disabled: l.disabled,
		now:      l.now,
	}
}

// WithField returns a new logger with the given field added.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.derive(map[string]any{key: value})
}

// WithFields returns a new logger with the given fields added.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return l.derive(fields)
}

// WithComponent returns a new logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return !l.disabled && level >= l.level
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// Logf logs at debug level. Its signature matches the transport library's
// log hook so RPC-level chatter lands in the same sink.
func (l *Logger) Logf(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

func (l *Logger) log(level Level, msg string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var line string
	if l.format == FormatJSON {
		line = l.jsonLine(level, msg)
	} else {
		line = l.textLine(level, msg)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	_, _ = io.WriteString(l.sink.output, line+"\n")
}

func (l *Logger) sortedKeys() []string {
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Logger) textLine(level Level, msg string) string {
	timestamp := l.now().Format("2006-01-02T15:04:05.000")

	var b strings.Builder
	if l.prefix != "" {
		fmt.Fprintf(&b, "%s [%s] %s: %s", timestamp, level.String(), l.prefix, msg)
	} else {
		fmt.Fprintf(&b, "%s [%s] %s", timestamp, level.String(), msg)
	}

	if len(l.fields) > 0 {
		b.WriteString(" {")
		for i, k := range l.sortedKeys() {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, l.fields[k])
		}
		b.WriteString("}")
	}
	return b.String()
}

func (l *Logger) jsonLine(level Level, msg string) string {
	line := "{}"
	line, _ = sjson.Set(line, "time", l.now().Format(time.RFC3339Nano))
	line, _ = sjson.Set(line, "level", level.String())
	if l.prefix != "" {
		line, _ = sjson.Set(line, "prefix", l.prefix)
	}
	line, _ = sjson.Set(line, "msg", msg)
	for _, k := range l.sortedKeys() {
		v := l.fields[k]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		next, err := sjson.Set(line, escapePath(k), v)
		if err != nil {
			next, _ = sjson.Set(line, escapePath(k), fmt.Sprint(v))
		}
		line = next
	}
	return line
}

// escapePath keeps field names with path metacharacters as literal keys.
func escapePath(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`)
	return r.Replace(k)
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
	defaultMu         sync.RWMutex
)

// Default returns the process-wide logger, creating one on first use.
func Default() *Logger {
	defaultLoggerOnce.Do(func() {
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = New(DefaultConfig())
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
// Should be called early in startup.
func SetDefault(l *Logger) {
	defaultLoggerOnce.Do(func() {})
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}
