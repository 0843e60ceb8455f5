// Package logging wraps github.com/nabbar/golib/logger with the small
// set of calls the daemons need: a process-wide logger, level control
// from CLI flags, and field-tagged entries per component.
package logging

import (
	"context"
	"fmt"
	"os"

	liblog "github.com/nabbar/golib/logger"
	logfld "github.com/nabbar/golib/logger/fields"
	loglvl "github.com/nabbar/golib/logger/level"
)

// New creates the process logger, bound to ctx, reporting at lvl.
func New(ctx context.Context, lvl loglvl.Level) liblog.Logger {
	l := liblog.New(ctx)
	l.SetLevel(lvl)
	l.SetIOWriterLevel(lvl)
	return l
}

// ParseLevel resolves a CLI/config level string (e.g. "info", "debug"),
// falling back to InfoLevel for anything unrecognized.
func ParseLevel(s string) loglvl.Level {
	return loglvl.Parse(s)
}

// Component returns a child logger tagging every entry with a "component"
// field, used to distinguish worker pools, the request channel, and the
// segment pool in shared log output.
func Component(ctx context.Context, l liblog.Logger, name string) liblog.Logger {
	clone, err := l.Clone()
	if err != nil {
		// A clone failure here means the process logger is already
		// broken; fall back to the unlabeled logger rather than lose
		// log output entirely.
		return l
	}
	f := clone.GetFields()
	if f == nil {
		f = logfld.New(ctx)
	} else {
		f = f.Clone()
	}
	clone.SetFields(f.Add("component", name))
	return clone
}

// Fatal logs a fatal-level entry with the given message and error then exits the
// process, mirroring the original's init-time failure behavior (bad CLI
// args, cache dir missing, etc. are unrecoverable before any worker
// starts).
func Fatal(l liblog.Logger, message string, err error) {
	l.Fatal(message, nil, err)
	fmt.Fprintln(os.Stderr, message, err)
	os.Exit(1)
}
