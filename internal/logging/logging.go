// Package logging wraps gonuts/logger so every subsystem gets a named
// logger the way the teacher CLI does (logger.New("aligot")), with a
// single shared verbosity switch.
package logging

import "github.com/gonuts/logger"

// Logger is the subset of gonuts/logger.Logger this module relies on.
type Logger = logger.Logger

var (
	verbose = false
	created []*logger.Logger
)

// SetVerbose flips every logger created from here on (and retroactively,
// since gonuts/logger's level lives on the *Logger itself) to DEBUG.
func SetVerbose(v bool) {
	verbose = v
	for _, l := range created {
		if v {
			l.SetLevel(logger.DEBUG)
		} else {
			l.SetLevel(logger.INFO)
		}
	}
}

// New returns a named logger for subsystem name, e.g. "scheduler",
// "resolver", "sandbox".
func New(name string) *logger.Logger {
	l := logger.New(name)
	created = append(created, l)
	if verbose {
		l.SetLevel(logger.DEBUG)
	} else {
		l.SetLevel(logger.INFO)
	}
	return l
}
