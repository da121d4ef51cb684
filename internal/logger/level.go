package logger

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
)

// Level represents log levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// slogLevelCritical sits above slog.LevelError so CRITICAL records pass an
// ERROR threshold but not the other way around.
const slogLevelCritical = slog.LevelError + 4

// LevelNames lists the accepted level names in increasing severity.
var LevelNames = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Slog converts the level to its slog.Level equivalent.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return slogLevelCritical
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses a level name (case-insensitive). WARN is accepted as an
// alias of WARNING.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (valid: %s)", name, strings.Join(LevelNames, ", "))
	}
}

// levelName returns the display name of an slog level.
func levelName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARNING"
	case level < slogLevelCritical:
		return "ERROR"
	default:
		return "CRITICAL"
	}
}

// LevelFlag is a pflag.Value restricted to the known level names.
type LevelFlag struct {
	level Level
}

var _ pflag.Value = (*LevelFlag)(nil)

// NewLevelFlag returns a flag value holding def.
func NewLevelFlag(def Level) *LevelFlag {
	return &LevelFlag{level: def}
}

func (f *LevelFlag) String() string { return f.level.String() }

func (f *LevelFlag) Set(s string) error {
	l, err := ParseLevel(s)
	if err != nil {
		return err
	}
	f.level = l
	return nil
}

func (f *LevelFlag) Type() string { return "level" }

// Level returns the parsed level.
func (f *LevelFlag) Level() Level { return f.level }
