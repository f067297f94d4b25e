// Package logger provides leveled, prefixed logging for gateguard components.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	globalLevel   = LevelInfo
	globalColored = true
	globalOut     io.Writer = os.Stderr
	globalMu      sync.RWMutex
)

var (
	styleDebug = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7A89"))
	styleInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4C9A6E"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#D9A441"))
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("#C74E3B"))
	styleFaint = lipgloss.NewStyle().Faint(true)
)

// Logger writes leveled messages tagged with a component prefix.
type Logger struct {
	prefix string
}

// New creates a logger for the given component prefix.
func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

// SetGlobalLevel sets the level below which messages are dropped.
func SetGlobalLevel(level Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLevel = level
}

// SetColored enables or disables styled output.
func SetColored(colored bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalColored = colored
}

// SetOutput redirects log output. Used by tests.
func SetOutput(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalOut = w
}

// ParseLevel converts a string to a Level. The empty string means Info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
}

// SetGlobalLevelFromString sets the level from a config string, ignoring
// unrecognized values so a bad config cannot silence logging entirely.
func SetGlobalLevelFromString(level string) {
	if l, err := ParseLevel(level); err == nil {
		SetGlobalLevel(l)
	}
}

func (l *Logger) log(level Level, label string, style lipgloss.Style, format string, args ...any) {
	globalMu.RLock()
	if level < globalLevel {
		globalMu.RUnlock()
		return
	}
	colored := globalColored
	out := globalOut
	globalMu.RUnlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)

	if colored {
		fmt.Fprintf(out, "%s %s %s %s\n",
			styleFaint.Render(ts), style.Render("["+label+"]"), styleFaint.Render("["+l.prefix+"]"), msg)
		return
	}
	fmt.Fprintf(out, "%s [%s] [%s] %s\n", ts, label, l.prefix, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, "DEBUG", styleDebug, format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, "INFO", styleInfo, format, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, "WARN", styleWarn, format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, "ERROR", styleError, format, args...)
}
