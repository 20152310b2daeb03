// Package logging builds the structured loggers shared by the CLI, the
// session server and the playback core.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New creates a [log.Logger] writing to w with timestamps and caller
// reporting enabled. The writer defaults to [os.Stderr].
func New(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// Component returns a child logger tagged with the component name.
func Component(l *log.Logger, name string, kv ...any) *log.Logger {
	return l.With(append([]any{"component", name}, kv...)...)
}

// SetLevel parses a level name ("debug", "info", "warn", "error") and applies
// it. Unknown names leave the level unchanged and return false.
func SetLevel(l *log.Logger, level string) bool {
	if level == "" {
		return false
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return false
	}
	l.SetLevel(lvl)
	return true
}

// Discard returns a logger that drops everything, for tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}
