// Package logger builds the process logger.
package logger

import (
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// LogLevelFromString maps a level name to a filter option. Unknown names allow everything.
func LogLevelFromString(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "info":
		return level.AllowInfo()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowAll()
	}
}

// New returns a logfmt logger writing to w, filtered at lvl and stamped with
// a UTC timestamp and the caller.
func New(w io.Writer, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, LogLevelFromString(lvl))
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}
