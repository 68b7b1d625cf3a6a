// Package nczlog is a minimal leveled logger in the teacher's own terse
// reporting style (bare fmt.Printf with a line-prefix like "Warning:" or
// "Error:"), promoted to a small type so pkg/nca and cmd/ncatool can report
// corruption/warnings uniformly instead of sprinkling Printf calls.
package nczlog

import (
	"fmt"
	"io"
	"os"
)

type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "Error"
	case LevelWarn:
		return "Warning"
	case LevelInfo:
		return "Info"
	case LevelDebug:
		return "Debug"
	default:
		return "Log"
	}
}

// Logger writes "<Level>: <message>" lines to an underlying writer, same
// shape as the teacher's "Warning: %v" / "Error: %v" Printf calls, filtered
// by a minimum level.
type Logger struct {
	out string
	w   io.Writer
	min Level
}

// New returns a Logger writing to w, suppressing anything below min.
func New(w io.Writer, min Level) *Logger {
	return &Logger{w: w, min: min}
}

// Default writes to os.Stderr at LevelInfo, the level cmd/ncatool installs
// for normal runs.
func Default() *Logger { return New(os.Stderr, LevelInfo) }

func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil || level > l.min {
		return
	}
	fmt.Fprintf(l.w, "%s: %s\n", level, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
