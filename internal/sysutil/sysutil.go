// Package sysutil holds process bootstrap helpers shared by every aisha
// subcommand.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var levels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
	"panic":   zerolog.PanicLevel,
}

// SetLogLevel sets the global level from LOG_LEVEL. Unknown or empty values
// mean info; config validation rejects typos before this runs.
func SetLogLevel(lvl string) {
	l, ok := levels[strings.ToLower(strings.TrimSpace(lvl))]
	if !ok {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}

// SetupLogger installs the global logger for one process and returns it.
//
// Every line carries a "component" field (serve, worker, bot…). The logger
// also becomes zerolog's default context logger, so zerolog.Ctx on a context
// without a request-scoped logger falls back to it instead of a no-op.
func SetupLogger(w io.Writer, level string, pretty bool, component string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	SetLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	log.Logger = zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger
}

// FirstNonEmpty picks the first value that is not blank, e.g. the linker
// version over "dev". Blank means empty after trimming; the winner is
// returned untrimmed.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
