package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log line. Ordered from least to most severe so
// that numeric comparisons (`logLevel >= imp.level.Get()`) work as filters.
type Level int32

const (
	// DEBUG level.
	DEBUG Level = iota
	// INFO level.
	INFO
	// WARN level.
	WARN
	// ERROR level.
	ERROR
)

// String returns the canonical upper-case name of the level.
func (level Level) String() string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(level))
	}
}

// AsZap converts a Level into the equivalent zapcore.Level.
func (level Level) AsZap() zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LevelFromString parses a case-insensitive level name into a Level.
func LevelFromString(levelStr string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %q", levelStr)
	}
}

// AtomicLevel is a concurrency safe container for a Level, mirroring zap's own
// AtomicLevel but operating on our own Level type.
type AtomicLevel struct {
	level *atomic.Int32
}

// NewAtomicLevelAt constructs an AtomicLevel initialized to the given Level.
func NewAtomicLevelAt(level Level) AtomicLevel {
	ret := AtomicLevel{level: &atomic.Int32{}}
	ret.Set(level)
	return ret
}

// Set updates the contained Level.
func (al AtomicLevel) Set(level Level) {
	al.level.Store(int32(level))
}

// Get returns the contained Level.
func (al AtomicLevel) Get() Level {
	return Level(al.level.Load())
}
