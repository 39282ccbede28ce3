// Package logger provides the leveled, prefixable logger used across ticketflow.
//
// Console output is colored only when the destination is a terminal and
// NO_COLOR is unset. An optional rotating file sink receives every line
// regardless of color settings.
package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase level name.
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
	default:
		return "unknown"
	}
}

// ParseLevel converts a config string into a Level. Unknown values map to info.
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

var (
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	prefixStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
)

// sink is shared between a logger and all of its prefixed children.
type sink struct {
	mu        sync.Mutex
	console   io.Writer
	file      io.WriteCloser
	useColors bool
}

// Logger writes leveled messages with an optional prefix.
type Logger struct {
	sink   *sink
	level  Level
	prefix string
}

// New creates a Logger writing to w at the given level.
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		sink:  &sink{console: w, useColors: detectColors(w)},
		level: level,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{sink: &sink{console: io.Discard}, level: LevelError + 1}
}

func detectColors(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if runtime.GOOS == "windows" && os.Getenv("WT_SESSION") == "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// SetFile attaches a file sink. Every message at or above the logger level
// is written there without color codes. The previous file sink, if any, is closed.
func (l *Logger) SetFile(w io.WriteCloser) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file != nil {
		_ = l.sink.file.Close()
	}
	l.sink.file = w
}

// Close closes the file sink.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

// WithPrefix returns a child logger sharing the same sinks whose messages
// are tagged with prefix. Prefixes nest: "daemon" then "CW2-1" gives "[daemon:CW2-1]".
func (l *Logger) WithPrefix(prefix string) *Logger {
	p := prefix
	if l.prefix != "" {
		p = l.prefix + ":" + prefix
	}
	return &Logger{sink: l.sink, level: l.level, prefix: p}
}

// Level returns the minimum level that is written.
func (l *Logger) Level() Level {
	return l.level
}

// Prefix returns the logger's prefix.
func (l *Logger) Prefix() string {
	return l.prefix
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, nil, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, nil, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, &warnStyle, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, &errorStyle, format, args...) }

// Success logs at info level with a check mark.
func (l *Logger) Success(format string, args ...any) {
	l.log(LevelInfo, &successStyle, "✓ "+format, args...)
}

func (l *Logger) log(level Level, style *lipgloss.Style, format string, args ...any) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)

	var plain strings.Builder
	if level != LevelInfo {
		plain.WriteString(strings.ToUpper(level.String()))
		plain.WriteString(" ")
	}
	if l.prefix != "" {
		plain.WriteString("[" + l.prefix + "] ")
	}
	plain.WriteString(msg)
	line := plain.String()

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.useColors {
		fmt.Fprintln(l.sink.console, l.colorize(level, style, msg))
	} else {
		fmt.Fprintln(l.sink.console, line)
	}
	if l.sink.file != nil {
		_, _ = io.WriteString(l.sink.file, line+"\n")
	}
}

func (l *Logger) colorize(level Level, style *lipgloss.Style, msg string) string {
	var b strings.Builder
	switch level {
	case LevelDebug:
		b.WriteString(debugStyle.Render("DEBUG") + " ")
	case LevelWarn:
		b.WriteString(warnStyle.Render("WARN") + " ")
	case LevelError:
		b.WriteString(errorStyle.Render("ERROR") + " ")
	}
	if l.prefix != "" {
		b.WriteString(prefixStyle.Render("["+l.prefix+"]") + " ")
	}
	if style != nil && level == LevelInfo {
		b.WriteString(style.Render(msg))
	} else {
		b.WriteString(msg)
	}
	return b.String()
}
