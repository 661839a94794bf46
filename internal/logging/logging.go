// Package logging is the process diagnostic sink: a leveled logger
// (error, warn, info, debug) plus a raw stream for output that bypasses
// levels and formatting, such as backtraces and hex dumps.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

type Level = zapcore.Level

const (
	LevelError = zapcore.ErrorLevel
	LevelWarn  = zapcore.WarnLevel
	LevelInfo  = zapcore.InfoLevel
	LevelDebug = zapcore.DebugLevel
)

type Logger struct {
	s   *zap.SugaredLogger
	lvl zap.AtomicLevel
	raw zapcore.WriteSyncer
}

// ParseLevel accepts error, warn, info or debug (case-insensitive). An empty
// string means info.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LevelInfo, nil
	}
	switch s {
	case "error", "warn", "info", "debug":
	default:
		return LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
	return zapcore.ParseLevel(s)
}

// New writes leveled lines and raw output to w.
func New(w io.Writer, level Level) *Logger {
	return newLogger(zapcore.AddSync(w), level, false)
}

// NewConsole writes to f, colouring levels when f is a terminal.
func NewConsole(f *os.File, level Level) *Logger {
	color := f != nil && term.IsTerminal(int(f.Fd()))
	return newLogger(zapcore.AddSync(f), level, color)
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{
		s:   zap.NewNop().Sugar(),
		lvl: zap.NewAtomicLevelAt(LevelInfo),
		raw: zapcore.AddSync(io.Discard),
	}
}

func newLogger(ws zapcore.WriteSyncer, level Level, color bool) *Logger {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	// Raw writes share the lock so a backtrace never interleaves with a log line.
	locked := zapcore.Lock(ws)
	lvl := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(ec), locked, lvl)
	return &Logger{s: zap.New(core).Sugar(), lvl: lvl, raw: locked}
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.s.Errorf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.s.Warnf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.s.Infof(format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.s.Debugf(format, args...)
}

// Rawf writes unconditionally, without level or timestamp.
func (l *Logger) Rawf(format string, args ...any) {
	if l == nil {
		return
	}
	_, _ = fmt.Fprintf(l.raw, format, args...)
}

// Raw is the unleveled output stream.
func (l *Logger) Raw() io.Writer {
	if l == nil {
		return io.Discard
	}
	return l.raw
}

func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.lvl.SetLevel(level)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return l.lvl.Enabled(level)
}

func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.s.Sync()
}
