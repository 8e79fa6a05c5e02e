// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = newConsoleLogger(os.Stderr)
)

// Logf is the package-level diagnostic logger. It defaults to an info-level
// zerolog event but may be replaced by SetLogger. Tests or production code
// can redirect or mute it.
var Logf func(format string, v ...interface{}) = defaultLogf

func defaultLogf(format string, v ...interface{}) {
	l := Log()
	l.Info().Msg(fmt.Sprintf(format, v...))
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Log returns the structured logger used for events that carry fields.
func Log() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

// SetWriter sends structured output to w. Console formatting is applied when
// pretty is true, otherwise one JSON object is written per line.
func SetWriter(w io.Writer, pretty bool) {
	mu.Lock()
	defer mu.Unlock()
	if pretty {
		log = newConsoleLogger(w)
		return
	}
	log = zerolog.New(w).With().Timestamp().Logger()
}

// SetVerbose switches between debug and info level output.
func SetVerbose(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func newConsoleLogger(w io.Writer) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	return zerolog.New(cw).With().Timestamp().Logger()
}
