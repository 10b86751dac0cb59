package log

import (
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is the shared go-kit logger. Components take it via their
// constructors where practical; the global exists for the deep call paths
// that predate that refactor.
var Logger = kitlog.NewNopLogger()

// InitLogger initialises the global logger and returns it. format is
// "logfmt" or "json".
func InitLogger(format string, logLevel dslog.Level) kitlog.Logger {
	writer := kitlog.NewSyncWriter(os.Stderr)
	logger := dslog.NewGoKitWithWriter(format, writer)

	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.Caller(5))

	// level filter must come last for efficiency
	logger = level.NewFilter(logger, logLevel.Option)

	Logger = logger
	return logger
}
