package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel maps "debug", "info", "notice" and "error" to a Level. Unknown values map to InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "notice":
		return NoticeLevel
	case "error":
		return ErrorLevel
	}
	return InfoLevel
}

type chain int

const (
	none chain = iota
	eth
	sepolia
	holesky
)

var chainIDMap = map[int]chain{
	1:        eth,
	11155111: sepolia,
	17000:    holesky,
}

var chainPrefixes = map[chain]string{
	none:    "",
	eth:     "[ETH] ",
	sepolia: "[SEP] ",
	holesky: "[HOL] ",
}

var colors = map[chain]color.Attribute{
	none:    color.FgWhite,
	eth:     color.FgHiGreen,
	sepolia: color.FgHiBlue,
	holesky: color.FgMagenta,
}

var levelPrefixes = map[Level]string{
	DebugLevel:  "[DEBUG]  ",
	InfoLevel:   "[INFO]   ",
	NoticeLevel: "[NOTICE] ",
	ErrorLevel:  "[ERROR]  ",
}

// Logger is a simple interface for logging messages.
type Logger interface {
	Info(format string, args ...interface{})
	InfoWithChain(chainID int, format string, args ...interface{})

	Error(format string, args ...interface{})
	ErrorWithChain(chainID int, format string, args ...interface{})

	Debug(format string, args ...interface{})
	DebugWithChain(chainID int, format string, args ...interface{})

	// Notice is for results the operator should see even at a quiet level.
	Notice(format string, args ...interface{})
	NoticeWithChain(chainID int, format string, args ...interface{})
}

// OrEmpty returns l, or an EmptyLogger when l is nil.
func OrEmpty(l Logger) Logger {
	if l == nil {
		return &EmptyLogger{}
	}
	return l
}

// EmptyLogger discards everything.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                   {}
func (l *EmptyLogger) InfoWithChain(_ int, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) ErrorWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                  {}
func (l *EmptyLogger) DebugWithChain(_ int, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                 {}
func (l *EmptyLogger) NoticeWithChain(_ int, _ string, _ ...interface{}) {}

// StdLogger writes leveled, chain-prefixed lines to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	out            *log.Logger
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return NewStdLoggerTo(os.Stderr, enableColoring, level)
}

// NewStdLoggerTo is NewStdLogger with an explicit destination.
func NewStdLoggerTo(w io.Writer, enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
		out:            log.New(w, "", log.LstdFlags),
	}
}

func (l *StdLogger) formatMessage(level Level, c chain, format string) string {
	prefix := chainPrefixes[c]
	if l.enableColoring && prefix != "" {
		prefix = color.New(colors[c]).Sprint(prefix)
	}
	lv := levelPrefixes[level]
	if l.enableColoring && level == ErrorLevel {
		lv = color.New(color.FgRed).Sprint(lv)
	}
	return lv + prefix + format
}

func (l *StdLogger) logf(level Level, chainID int, format string, args []interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf(l.formatMessage(level, chainIDMap[chainID], format), args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, 0, format, args)
}

func (l *StdLogger) InfoWithChain(chainID int, format string, args ...interface{}) {
	l.logf(InfoLevel, chainID, format, args)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, 0, format, args)
}

func (l *StdLogger) ErrorWithChain(chainID int, format string, args ...interface{}) {
	l.logf(ErrorLevel, chainID, format, args)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, 0, format, args)
}

func (l *StdLogger) DebugWithChain(chainID int, format string, args ...interface{}) {
	l.logf(DebugLevel, chainID, format, args)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, 0, format, args)
}

func (l *StdLogger) NoticeWithChain(chainID int, format string, args ...interface{}) {
	l.logf(NoticeLevel, chainID, format, args)
}
