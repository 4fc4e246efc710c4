package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ANSI color codes for console output
const (
	ColorReset        = "\033[0m"
	ColorGreen        = "\033[32m"
	ColorCyan         = "\033[36m"
	ColorBrightRed    = "\033[91m"
	ColorBrightYellow = "\033[93m"
	ColorBrightGray   = "\033[90m"
)

// Column widths for aligned console output
const (
	ServiceNameWidth = 20
	LogLevelWidth    = 7 // icons add +2
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (lv Level) String() string {
	if s, ok := levelNames[lv]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// LogEntry represents a single log entry
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
	Fields  map[string]string
}

// Logger provides leveled console logging with streaming support
type Logger struct {
	serviceName string
	version     string

	mu             sync.RWMutex
	out            io.Writer
	level          Level
	subscribers    []chan LogEntry
	colorEnabled   bool
	disableConsole bool
}

// New creates a new logger instance writing to stderr.
func New(serviceName, version string) *Logger {
	return &Logger{
		serviceName:  serviceName,
		version:      version,
		out:          os.Stderr,
		level:        LevelInfo,
		subscribers:  make([]chan LogEntry, 0),
		colorEnabled: isTerminal(os.Stderr),
	}
}

// isTerminal checks if we're outputting to a terminal (for color support)
func isTerminal(f *os.File) bool {
	if os.Getenv("TERM") == "dumb" || os.Getenv("NO_COLOR") != "" {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// SetOutput redirects console output. Color is disabled for non-terminal writers.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	if f, ok := w.(*os.File); ok {
		l.colorEnabled = isTerminal(f)
	} else {
		l.colorEnabled = false
	}
}

// SetLevel sets the minimum level written to the console and subscribers.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Version returns the version the logger was created with.
func (l *Logger) Version() string {
	return l.version
}

func (l *Logger) getColorForLevel(level Level) string {
	if !l.colorEnabled {
		return ""
	}

	switch level {
	case LevelDebug:
		return ColorBrightGray
	case LevelInfo:
		return ColorGreen
	case LevelWarn:
		return ColorBrightYellow
	case LevelError, LevelFatal:
		return ColorBrightRed
	default:
		return ColorReset
	}
}

// formatServiceName truncates and pads service name for consistent column width
func formatServiceName(serviceName string) string {
	if len(serviceName) > ServiceNameWidth {
		return serviceName[:ServiceNameWidth-1] + "…"
	}
	return fmt.Sprintf("%-*s", ServiceNameWidth, serviceName)
}

// formatLogLevel pads log level for consistent column width and adds visual indicators
func formatLogLevel(level Level) string {
	levelStr := level.String()

	switch level {
	case LevelError, LevelFatal:
		levelStr = "✗ " + levelStr
	case LevelWarn:
		levelStr = "⚠ " + levelStr
	case LevelInfo:
		levelStr = "ℹ " + levelStr
	case LevelDebug:
		levelStr = "◦ " + levelStr
	}

	return fmt.Sprintf("%-*s", LogLevelWidth+2, levelStr)
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fields[k])
	}
	return b.String()
}

// Subscribe returns a channel to receive log entries. Entries are dropped
// for a subscriber whose buffer is full.
func (l *Logger) Subscribe() <-chan LogEntry {
	ch := make(chan LogEntry, 100)

	l.mu.Lock()
	l.subscribers = append(l.subscribers, ch)
	l.mu.Unlock()

	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (l *Logger) Unsubscribe(sub <-chan LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, ch := range l.subscribers {
		if ch == sub {
			l.subscribers = append(l.subscribers[:i], l.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// DisableConsoleOutput stops console output; subscribers still receive entries.
func (l *Logger) DisableConsoleOutput() {
	l.mu.Lock()
	l.disableConsole = true
	l.mu.Unlock()
}

// EnableConsoleOutput enables console output (default behavior)
func (l *Logger) EnableConsoleOutput() {
	l.mu.Lock()
	l.disableConsole = false
	l.mu.Unlock()
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	now := time.Now()
	entry := LogEntry{
		Time:    now,
		Level:   level.String(),
		Message: message,
		Fields:  fields,
	}

	if !l.disableConsole && l.out != nil {
		timestamp := now.Format("2006-01-02 15:04:05.000")

		color := l.getColorForLevel(level)
		cyan, resetColor := "", ""
		if l.colorEnabled {
			cyan, resetColor = ColorCyan, ColorReset
		}

		fmt.Fprintf(l.out, "%s[%s] [%s] [%s%s%s] %s%s%s\n",
			cyan, timestamp, formatServiceName(l.serviceName), color, formatLogLevel(level), resetColor,
			message, formatFields(fields), resetColor)
	}

	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Debug logs a debug message with optional formatting
func (l *Logger) Debug(message string, args ...interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.log(LevelDebug, message, nil)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, fmt.Sprintf(format, args...), nil)
}

// Info logs an info message with optional formatting
func (l *Logger) Info(message string, args ...interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.log(LevelInfo, message, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message with optional formatting
func (l *Logger) Warn(message string, args ...interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.log(LevelWarn, message, nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, fmt.Sprintf(format, args...), nil)
}

// Error logs an error message with optional formatting
func (l *Logger) Error(message string, args ...interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	l.log(LevelError, message, nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, fmt.Sprintf(format, args...), nil)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.log(LevelFatal, message, nil)
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(LevelFatal, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// WithFields returns a context that attaches fields to every entry.
func (l *Logger) WithFields(fields map[string]string) *LogContext {
	return &LogContext{
		logger: l,
		fields: fields,
	}
}

// LogContext provides field-based logging
type LogContext struct {
	logger *Logger
	fields map[string]string
}

func (c *LogContext) Debug(message string, args ...interface{}) {
	c.emit(LevelDebug, message, args)
}

func (c *LogContext) Info(message string, args ...interface{}) {
	c.emit(LevelInfo, message, args)
}

func (c *LogContext) Warn(message string, args ...interface{}) {
	c.emit(LevelWarn, message, args)
}

func (c *LogContext) Error(message string, args ...interface{}) {
	c.emit(LevelError, message, args)
}

func (c *LogContext) emit(level Level, message string, args []interface{}) {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	c.logger.log(level, message, c.fields)
}
