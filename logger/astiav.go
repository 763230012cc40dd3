// astiav.go maps log levels between libav and go-belt.

package logger

import (
	"context"
	"strings"

	"github.com/asticode/go-astiav"
)

func LevelToAstiav(level Level) astiav.LogLevel {
	switch level {
	case LevelUndefined:
		return astiav.LogLevelQuiet
	case LevelPanic:
		return astiav.LogLevelPanic
	case LevelFatal:
		return astiav.LogLevelFatal
	case LevelError:
		return astiav.LogLevelError
	case LevelWarning:
		return astiav.LogLevelWarning
	case LevelInfo:
		return astiav.LogLevelInfo
	case LevelDebug:
		return astiav.LogLevelVerbose
	default:
		return astiav.LogLevelDebug
	}
}

func LevelFromAstiav(level astiav.LogLevel) Level {
	switch {
	case level <= astiav.LogLevelPanic:
		return LevelPanic
	case level <= astiav.LogLevelFatal:
		return LevelFatal
	case level <= astiav.LogLevelError:
		return LevelError
	case level <= astiav.LogLevelWarning:
		return LevelWarning
	case level <= astiav.LogLevelInfo:
		return LevelInfo
	case level <= astiav.LogLevelVerbose:
		return LevelDebug
	default:
		return LevelTrace
	}
}

// ForwardAstiavLogs routes libav's log output into the logger found in ctx.
// Panic and fatal libav messages are logged as errors, they never terminate
// the process.
func ForwardAstiavLogs(ctx context.Context) {
	l := FromCtx(ctx)
	astiav.SetLogLevel(LevelToAstiav(l.Level()))
	astiav.SetLogCallback(func(c astiav.Classer, level astiav.LogLevel, _, msg string) {
		var cs string
		if c != nil {
			if cl := c.Class(); cl != nil {
				cs = " - class: " + cl.String()
			}
		}
		lvl := LevelFromAstiav(level)
		if lvl < LevelError {
			lvl = LevelError
		}
		l.Logf(lvl, "%s%s", strings.TrimSpace(msg), cs)
	})
}
