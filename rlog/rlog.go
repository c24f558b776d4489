// Package rlog is the zerolog wrapper every other package logs through,
// keeping the teacher's section-banner texture on top of structured
// fields instead of ANSI color codes.
package rlog

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

// SetLevel changes the minimum level logged process-wide.
func SetLevel(level zerolog.Level) {
	base = base.Level(level)
}

// SetJSON switches to line-delimited JSON output, for production
// deployments that ship logs to a collector rather than a terminal.
func SetJSON() {
	base = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(base.GetLevel())
}

// For returns a logger scoped to one component, e.g. rlog.For("listener").
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// Conn returns a logger scoped to one connection's remote address.
func Conn(component, remote string) zerolog.Logger {
	return base.With().Str("component", component).Str("remote", remote).Logger()
}

// Section prints a visual divider around a bootstrap phase, matching the
// teacher's pkg/logger.Section texture but through the shared writer.
func Section(title string) {
	border := "───────────────────────────────────────────────────────────"
	fmt.Fprintf(os.Stderr, "\n%s\n %s\n%s\n\n", border, title, border)
}

// Banner prints the startup banner once, at process bootstrap.
func Banner(name, version string) {
	fmt.Fprintf(os.Stderr, "\n%s %s — RakNet-compatible UDP transport daemon\n\n", name, version)
}
